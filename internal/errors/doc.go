// Package errors provides structured, actionable errors for the tether
// command line.
//
// Each error has a registered code that maps to a short message, a longer
// explanation and, where one exists, a hint. Configuration errors can carry
// the file position they refer to, and Format prints the surrounding lines.
//
// # Error Codes
//
//   - T1xx: configuration files and sources
//   - T2xx: command line
//   - T3xx: protocol and connectivity
//   - T4xx: storage
//
// # Usage
//
//	err := errors.New("T101").
//	    WithLocation("tether.toml", 4, 17).
//	    Wrap(parseErr)
//
//	errors.PrintError(err)
//	// ERROR T101: Config file could not be parsed
//	//
//	//   tether.toml:4:17
//	//
//	//        2 │ [server]
//	//        3 │ address = ":8080"
//	//   →    4 │ max_connections = "ten"
//	//          │                 ^
//	//        5 │
package errors
