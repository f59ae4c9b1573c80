// Package memory provides an in-memory database implementation.
package memory

import "github.com/hashicorp/go-memdb"

const (
	tblCallSessions      = "call_sessions"
	tblSignalingMessages = "signaling_messages"
)

const (
	idxSessionID = "id"
	idxMessageID = "id"
	idxMessageTo = "to"
)

// schema is the schema of the memory database.
var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblCallSessions: {
			Name: tblCallSessions,
			Indexes: map[string]*memdb.IndexSchema{
				idxSessionID: {
					Name:    idxSessionID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblSignalingMessages: {
			Name: tblSignalingMessages,
			Indexes: map[string]*memdb.IndexSchema{
				idxMessageID: {
					Name:    idxMessageID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				idxMessageTo: {
					Name:   idxMessageTo,
					Unique: false,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "CallSessionID"},
							&memdb.StringFieldIndex{Field: "ToUserID"},
						},
					},
				},
			},
		},
	},
}
