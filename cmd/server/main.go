package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "stockledger/internal/adapters/web"
	"stockledger/internal/core"
	"stockledger/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	var stock core.StockService
	var catalog core.CatalogService
	if os.Getenv("DATABASE_URL") != "" {
		pool, err := db.NewPool(ctx)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer pool.Close()
		stock = core.NewStockService(pool)
		catalog = core.NewCatalogService(pool)
	} else {
		// No database configured: run the in-memory engine. Stock state
		// does not survive a restart; useful for demos and local work.
		log.Println("DATABASE_URL not set — using in-memory stock engine")
		stock = core.NewMemoryStockService()
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	handler := webAdapter.NewHandler(stock, catalog, os.Getenv("ALLOWED_ORIGINS"))

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
