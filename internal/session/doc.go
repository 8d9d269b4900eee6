// Package session tracks whether each user is starting a new conversation
// or continuing an earlier one.
//
// # States
//
// A user is Fresh when no record exists and Continuing when the Store holds
// a continuation token for them. Transition is a pure function describing
// how exchange outcomes and resets move between the two:
//
//	Fresh      --TokenIssued--> Continuing  (put)
//	Continuing --TokenIssued--> Continuing  (put, replaces token)
//	any        --NoToken------> unchanged
//	Continuing --Reset--------> Fresh       (delete)
//	Fresh      --Reset--------> Fresh
//
// # Concurrency
//
// Manager serializes every operation for a single user behind a per-user
// mutex, so two messages from the same user never race on the read,
// generate and write cycle. Different users proceed in parallel. When
// several relay processes share a backing store, WithLocker adds a
// distributed lock around the same critical section.
//
// Store backends live in internal/store.
package session
