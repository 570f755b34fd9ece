package main

import (
	"diario/cmd/handlers"
	"diario/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
