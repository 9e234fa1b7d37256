// Package demo provides the built-in demo agents used for manual simulation
// runs out of the box.
package demo

import (
	"database/sql"

	"agentsim/internal/catalog"
)

// Register adds the built-in demo agents to the catalog. The librarian agent
// is only registered when a database connection is supplied.
func Register(c *catalog.Catalog, conn *sql.DB) error {
	calc, err := CalcAgent()
	if err != nil {
		return err
	}
	if err := c.Add(calc); err != nil {
		return err
	}
	if conn == nil {
		return nil
	}
	librarian, err := LibrarianAgent(conn)
	if err != nil {
		return err
	}
	return c.Add(librarian)
}
