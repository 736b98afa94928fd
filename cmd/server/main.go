/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the minibiblio circulation server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire circulation engine, audit recorder, reporter, importer
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: minibiblio.db)
           Use ":memory:" for an in-memory database
  -actor   Label recorded as the acting operator in the audit log

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/library.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helmecke/minibiblio/api"
	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/csvimport"
	"github.com/helmecke/minibiblio/reporting"
	"github.com/helmecke/minibiblio/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "minibiblio.db", "SQLite database path")
	actor := flag.String("actor", "system", "Operator label for the audit log")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine and its supporting services
	engine := circulation.NewEngine(store.Loans(), store.Catalog(), store.Patrons(), store.Settings())
	engine.SetSink(audit.NewRecorder(store.Audit(), *actor))

	handler := api.NewHandler(api.Deps{
		Engine:   engine,
		Items:    store.Catalog(),
		Patrons:  store.Patrons(),
		Settings: store.Settings(),
		Reporter: reporting.NewReporter(store.Loans(), store.Catalog(), store.Patrons(), store.Settings()),
		Audit:    store.Audit(),
		Importer: csvimport.NewImporter(store.Catalog()),
	})

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
