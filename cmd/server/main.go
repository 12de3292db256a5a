/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server: configuration, store,
  HTTP router, graceful shutdown.

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: stock.db)
           Use ":memory:" for an in-memory database
  -config  Optional JSON file with the supplier list and category order

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/stock.db"
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steelworks/stock-engine/api"
	"github.com/steelworks/stock-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "stock.db", "SQLite database path")
	configPath := flag.String("config", "", "JSON file with suppliers and category order")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	config := defaultConfig()
	if *configPath != "" {
		config, err = loadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	handler := api.NewHandler(store, config)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

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

// loadConfig reads the externally-owned supplier/category configuration.
// The engine never sees this state; it belongs to the form layer.
func loadConfig(path string) (api.SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.SiteConfig{}, err
	}
	var config api.SiteConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return api.SiteConfig{}, err
	}
	return config, nil
}

func defaultConfig() api.SiteConfig {
	return api.SiteConfig{
		Suppliers:     []string{"Central Steel", "Ryerson", "Majestic"},
		CategoryOrder: []string{"Galvanized", "Galvanneal", "Stainless", "Aluminum"},
	}
}
