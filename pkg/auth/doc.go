// Package auth provides server.AuthFunc implementations.
//
// Authentication runs once per connection, before admission. The account it
// yields is attached to the actor's server.Context for the lifetime of the
// session; a rejected request never consumes an admission permit.
//
//	tokens, err := auth.NewStaticTokens(map[string]string{
//	    "s3cr3t": "6f1c3b1e-8d7a-4c52-9d0e-2b8f6a4e1c77",
//	})
//	srv.SetAuthFunc(auth.Bearer(tokens, false))
//
// Handlers that must only serve accounts can be wrapped with
// middleware.RequireAccount.
package auth
