package parser

import (
	"bytes"
	"io"
	"testing"

	"github.com/hdt3213/streamis/lib/utils"
	"github.com/hdt3213/streamis/redis/protocol"
)

func TestParseStream(t *testing.T) {
	replies := []protocol.Reply{
		protocol.MakeIntReply(1),
		protocol.MakeStatusReply("OK"),
		protocol.MakeErrReply("ERR unknown"),
		protocol.MakeBulkReply([]byte("a\r\nb")), // test binary safe
		protocol.MakeNullBulkReply(),
		protocol.MakeMultiBulkReply([][]byte{
			[]byte("message"),
			[]byte("alerts"),
			[]byte("payload\r\nwith crlf"),
		}),
		protocol.MakeEmptyMultiBulkReply(),
	}
	reqs := bytes.Buffer{}
	for _, re := range replies {
		reqs.Write(re.ToBytes())
	}
	reqs.Write([]byte("ping" + protocol.CRLF)) // test inline protocol
	expected := make([]protocol.Reply, len(replies))
	copy(expected, replies)
	expected = append(expected, protocol.MakeMultiBulkReply([][]byte{
		[]byte("ping"),
	}))

	ch := ParseStream(bytes.NewReader(reqs.Bytes()))
	i := 0
	for payload := range ch {
		if payload.Err != nil {
			if payload.Err == io.EOF {
				return
			}
			t.Error(payload.Err)
			return
		}
		if payload.Data == nil {
			t.Error("empty data")
			return
		}
		exp := expected[i]
		i++
		if !utils.BytesEquals(exp.ToBytes(), payload.Data.ToBytes()) {
			t.Error("parse failed: " + string(exp.ToBytes()))
		}
	}
}

// subscribe confirmations are arrays mixing bulk strings and an integer
func TestParseMixedArray(t *testing.T) {
	data := []byte("*3\r\n$9\r\nsubscribe\r\n$6\r\nalerts\r\n:1\r\n")
	ret, err := ParseOne(data)
	if err != nil {
		t.Fatal(err)
	}
	ack, ok := ret.(*protocol.MultiBulkReply)
	if !ok {
		t.Fatalf("expected multi bulk reply, got %T", ret)
	}
	want := [][]byte{[]byte("subscribe"), []byte("alerts"), []byte("1")}
	if len(ack.Args) != len(want) {
		t.Fatalf("got %d args, want %d", len(ack.Args), len(want))
	}
	for i := range want {
		if !utils.BytesEquals(ack.Args[i], want[i]) {
			t.Errorf("arg %d: got %q, want %q", i, ack.Args[i], want[i])
		}
	}
}

func TestParseOne(t *testing.T) {
	replies := []protocol.Reply{
		protocol.MakeIntReply(1),
		protocol.MakeStatusReply("OK"),
		protocol.MakeErrReply("ERR unknown"),
		protocol.MakeBulkReply([]byte("a\r\nb")),
		protocol.MakeNullBulkReply(),
		protocol.MakeEmptyMultiBulkReply(),
	}
	for _, re := range replies {
		ret, err := ParseOne(re.ToBytes())
		if err != nil {
			t.Error(err)
			continue
		}
		if !utils.BytesEquals(ret.ToBytes(), re.ToBytes()) {
			t.Error("parse failed: " + string(re.ToBytes()))
		}
	}
}
