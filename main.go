package main

import (
	"github.com/WoPay/WoPay-Gateway/api"
)

var envPath string = "."

func main() {
	server := api.NewServer(envPath)
	server.Start()
}
