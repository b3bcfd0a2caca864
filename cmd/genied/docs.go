package main

// General API documentation for swaggo. Run `swag init -g cmd/genied/docs.go`
// to generate docs, then build with -tags=swagger.
//
// @title           genied API
// @version         1.0
// @description     HTTP API for local assistant chat sessions over the Genie inference binaries.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
