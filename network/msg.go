// Package network defines the JSON messages exchanged between the
// coordinator and the replicas. Field names are part of the wire
// contract and must not change.
package network

// RequestPageCommit asks the coordinator to drive a page write.
// POST /request_page_commit (coordinator).
type RequestPageCommit struct {
	Page    string `json:"page"`
	Content string `json:"content"`
}

// RequestUserCommit asks the coordinator to drive a user write.
// POST /request_user_commit (coordinator).
type RequestUserCommit struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// PageCommit is the phase-1 prepare for a page transaction.
// POST /can_page_commit (replica).
type PageCommit struct {
	TransactionID uint64 `json:"transaction_id"`
	Page          string `json:"page"`
	Content       string `json:"content"`
}

// UserCommit is the phase-1 prepare for a user transaction.
// POST /can_user_commit (replica).
type UserCommit struct {
	TransactionID uint64 `json:"transaction_id"`
	Name          string `json:"name"`
	Admin         bool   `json:"admin"`
}

// CommitReply is a replica's vote on a prepare. Commit=true means the
// replica has durably promised to obey the coordinator's decision.
type CommitReply struct {
	TransactionID uint64 `json:"transaction_id"`
	Sender        string `json:"sender"`
	Commit        bool   `json:"commit"`
}

// DoCommit is the phase-2 decision broadcast.
// POST /do_commit (replica).
type DoCommit struct {
	TransactionID uint64 `json:"transaction_id"`
	Commit        bool   `json:"commit"`
}

// HaveCommit acknowledges a DoCommit. Commit reports whether the
// replica applied the transaction.
type HaveCommit struct {
	TransactionID uint64 `json:"transaction_id"`
	Sender        string `json:"sender"`
	Commit        bool   `json:"commit"`
}
