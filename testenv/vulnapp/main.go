// Intentionally vulnerable web application for testing sqldrip.
// DO NOT deploy this in any production environment.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"

	_ "github.com/go-sql-driver/mysql"
)

var db *sql.DB

func main() {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		log.Fatal("MYSQL_DSN is required (e.g. user:pass@tcp(localhost:3306)/vulndb)")
	}

	var err error
	db, err = sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("MySQL connection failed: %v", err)
	}
	if err = db.Ping(); err != nil {
		log.Fatalf("MySQL ping failed: %v", err)
	}
	log.Println("Connected to MySQL")

	if err := seed(); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	// The id parameter is concatenated straight into the query: a numeric
	// context injection point for time-based probes.
	http.HandleFunc("/user", userHandler)

	// The name parameter sits inside a single-quoted literal: a string
	// context injection point.
	http.HandleFunc("/search", searchHandler)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":18081"
	}
	log.Printf("vulnapp listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// seed creates and fills the users table the E2E tests dump.
func seed() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INT PRIMARY KEY AUTO_INCREMENT,
			first_name VARCHAR(64),
			last_name VARCHAR(64)
		)`,
		`DELETE FROM users`,
		`INSERT INTO users (first_name, last_name) VALUES
			('admin', 'admin'),
			('Gordon', 'Brown'),
			('Hack', 'Me'),
			('Pablo', 'Picasso'),
			('Bob', 'Smith')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// userHandler is vulnerable through the unquoted id parameter.
func userHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = r.PostFormValue("id")
	}

	query := fmt.Sprintf("SELECT first_name, last_name FROM users WHERE id = %s", id)
	respond(w, query)
}

// searchHandler is vulnerable through the quoted name parameter.
func searchHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = r.PostFormValue("name")
	}

	query := fmt.Sprintf("SELECT first_name, last_name FROM users WHERE first_name = '%s'", name)
	respond(w, query)
}

// respond runs the (attacker-controlled) query and renders a minimal page.
// Errors are hidden from the response so only the timing side channel
// remains, which is exactly what sqldrip exploits.
func respond(w http.ResponseWriter, query string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	rows, err := db.Query(query)
	if err != nil {
		fmt.Fprint(w, "<html><body><p>No results found.</p></body></html>")
		return
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var first, last string
		if err := rows.Scan(&first, &last); err == nil {
			found = true
		}
	}
	if found {
		fmt.Fprint(w, "<html><body><p>Record found.</p></body></html>")
	} else {
		fmt.Fprint(w, "<html><body><p>No results found.</p></body></html>")
	}
}
