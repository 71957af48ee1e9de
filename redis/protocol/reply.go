package protocol

import (
	"bytes"
	"strconv"
)

// CRLF is the line separator of redis serialization protocol
const CRLF = "\r\n"

var nullBulkBytes = []byte("$-1" + CRLF)

// Reply is a redis serialization protocol message
type Reply interface {
	ToBytes() []byte
}

/* ---- Status Reply ---- */

// StatusReply stores a simple status string
type StatusReply struct {
	Status string
}

// MakeStatusReply creates StatusReply
func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{
		Status: status,
	}
}

// ToBytes marshals the reply
func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + r.Status + CRLF)
}

/* ---- Error Reply ---- */

// ErrReply stores an error message reported by the server
type ErrReply struct {
	Status string
}

// MakeErrReply creates ErrReply
func MakeErrReply(status string) *ErrReply {
	return &ErrReply{
		Status: status,
	}
}

// ToBytes marshals the reply
func (r *ErrReply) ToBytes() []byte {
	return []byte("-" + r.Status + CRLF)
}

func (r *ErrReply) Error() string {
	return r.Status
}

/* ---- Int Reply ---- */

// IntReply stores an int64 number
type IntReply struct {
	Code int64
}

// MakeIntReply creates IntReply
func MakeIntReply(code int64) *IntReply {
	return &IntReply{
		Code: code,
	}
}

// ToBytes marshals the reply
func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

/* ---- Bulk Reply ---- */

// BulkReply stores a binary-safe string
type BulkReply struct {
	Arg []byte
}

// MakeBulkReply creates BulkReply
func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{
		Arg: arg,
	}
}

// ToBytes marshals the reply
func (r *BulkReply) ToBytes() []byte {
	if r.Arg == nil {
		return nullBulkBytes
	}
	return []byte("$" + strconv.Itoa(len(r.Arg)) + CRLF + string(r.Arg) + CRLF)
}

/* ---- Null Bulk Reply ---- */

// NullBulkReply is an empty string
type NullBulkReply struct{}

// MakeNullBulkReply creates NullBulkReply
func MakeNullBulkReply() *NullBulkReply {
	return &NullBulkReply{}
}

// ToBytes marshals the reply
func (r *NullBulkReply) ToBytes() []byte {
	return nullBulkBytes
}

/* ---- Multi Bulk Reply ---- */

// MultiBulkReply stores a list of binary-safe strings, it carries both
// outgoing commands and pubsub push messages
type MultiBulkReply struct {
	Args [][]byte
}

// MakeMultiBulkReply creates MultiBulkReply
func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{
		Args: args,
	}
}

// ToBytes marshals the reply
func (r *MultiBulkReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("*" + strconv.Itoa(len(r.Args)) + CRLF)
	for _, arg := range r.Args {
		if arg == nil {
			buf.Write(nullBulkBytes)
		} else {
			buf.WriteString("$" + strconv.Itoa(len(arg)) + CRLF + string(arg) + CRLF)
		}
	}
	return buf.Bytes()
}

/* ---- Empty Multi Bulk Reply ---- */

// EmptyMultiBulkReply is an empty list
type EmptyMultiBulkReply struct{}

// MakeEmptyMultiBulkReply creates EmptyMultiBulkReply
func MakeEmptyMultiBulkReply() *EmptyMultiBulkReply {
	return &EmptyMultiBulkReply{}
}

// ToBytes marshals the reply
func (r *EmptyMultiBulkReply) ToBytes() []byte {
	return []byte("*0" + CRLF)
}

// IsErrorReply returns true if the given reply is an error
func IsErrorReply(reply Reply) bool {
	_, ok := reply.(*ErrReply)
	return ok
}
