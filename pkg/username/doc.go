// Package username implements the username domain served over a tether
// session: suggesting fresh names and checking whether a name is free.
//
// A Handler plugs into server.New. Availability comes from a Store, either
// the in-process MemoryStore or a GormStore reading a PostgreSQL accounts
// table.
//
//	store := username.NewMemoryStore()
//	srv := server.New(server.DefaultServerConfig(), username.NewHandler(store))
//
// Names are 5 to 24 bytes of ASCII letters, digits, '_' or '-'. Names that
// fail Validate are reported unavailable.
package username
