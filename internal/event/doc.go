// Package event provides the pub-sub bus the engine uses to push state to
// its observers.
//
// The store, scheduler, executor and suggestion generator publish; the CLI
// board, the MCP server and metrics subscribe. Publishers never know who is
// listening.
//
// [Bus.Subscribe] handlers run synchronously on the publishing goroutine
// and must be quick. Progress streams use [Bus.SubscribeChan], whose
// buffered channel drops events rather than block the agent stream.
//
// Event names follow "category.action": feature.*, scheduler.*,
// suggestions.* and config.changed. See the Type* constants.
package event
