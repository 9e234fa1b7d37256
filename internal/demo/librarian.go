package demo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"agentsim/internal/catalog"
	"agentsim/internal/runner"
	"agentsim/internal/schema"
)

// LibrarianAgent builds the demo agent backed by the seeded SQLite catalog
// of books. It shows tools that do real I/O and honor context cancellation.
// The books schema and seed rows come from the embedded migrations.
func LibrarianAgent(conn *sql.DB) (*catalog.Agent, error) {
	profile := catalog.Profile{
		Name:        "LibrarianAgent",
		Instruction: "You are a librarian. Answer questions about the collection using the search and lookup tools.",
		Tools: []catalog.Tool{
			{
				Name:        "search_books",
				Description: "Search books by title or author substring.",
				Parameters: schema.Object([]schema.Property{
					{Name: "query", Schema: schema.String("Text to match against title and author.")},
					{Name: "limit", Schema: schema.Integer("Maximum number of results, defaults to 5.")},
				}, "query"),
			},
			{
				Name:        "get_book",
				Description: "Fetch one book by its catalog id.",
				Parameters: schema.Object([]schema.Property{
					{Name: "id", Schema: schema.Integer("Catalog id of the book.")},
				}, "id"),
			},
		},
	}
	agent, err := catalog.NewAgent(profile)
	if err != nil {
		return nil, err
	}
	lib := &library{conn: conn}
	if err := agent.Bind("search_books", lib.search); err != nil {
		return nil, err
	}
	if err := agent.Bind("get_book", lib.get); err != nil {
		return nil, err
	}
	return agent, nil
}

type library struct {
	conn *sql.DB
}

func (l *library) search(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &runner.Fault{Kind: "ValueError", Message: "query must not be empty"}
	}
	limit := 5
	if n, err := number(args, "limit"); err == nil && n > 0 {
		limit = int(n)
	}
	pattern := "%" + query + "%"
	rows, err := l.conn.QueryContext(ctx,
		`SELECT id, title, author, year FROM books
		 WHERE title LIKE ? OR author LIKE ?
		 ORDER BY id LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := []map[string]any{}
	for rows.Next() {
		var (
			id, year      int64
			title, author string
		)
		if err := rows.Scan(&id, &title, &author, &year); err != nil {
			return nil, err
		}
		books = append(books, map[string]any{
			"id": id, "title": title, "author": author, "year": year,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{"books": books, "count": len(books)}, nil
}

func (l *library) get(ctx context.Context, args map[string]any) (any, error) {
	idf, err := number(args, "id")
	if err != nil {
		return nil, err
	}
	id := int64(idf)
	var (
		title, author string
		year          int64
	)
	err = l.conn.QueryRowContext(ctx,
		`SELECT title, author, year FROM books WHERE id = ?`, id).
		Scan(&title, &author, &year)
	if err == sql.ErrNoRows {
		return nil, &runner.Fault{Kind: "KeyError", Message: fmt.Sprintf("no book with id %d", id)}
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "title": title, "author": author, "year": year}, nil
}
