package msgpack_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	impl "github.com/vmihailenco/msgpack/v5"

	"github.com/Zereker/sconcomm"
	"github.com/Zereker/sconcomm/msgpack"
)

// feed returns a more func that hands out data n bytes at a time.
func feed(data []byte, n int) func() ([]byte, error) {
	return func() ([]byte, error) {
		if len(data) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		k := min(n, len(data))
		chunk := data[:k]
		data = data[k:]
		return chunk, nil
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := msgpack.Codec()

	env := sconcomm.Envelope{
		"hello":  "world!",
		"n":      42,
		"nested": map[string]any{"a": "b"},
		"list":   []any{"x", "y"},
	}

	data, err := codec.Encode(env, sconcomm.EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, leftover, err := codec.Decode(data, feed(nil, 1))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if leftover != nil {
		t.Errorf("leftover = %x, want none", leftover)
	}

	if got["hello"] != "world!" {
		t.Errorf("hello = %v", got["hello"])
	}
	if fmt.Sprint(got["n"]) != "42" {
		t.Errorf("n = %v (%T)", got["n"], got["n"])
	}
	if !reflect.DeepEqual(got["nested"], map[string]any{"a": "b"}) {
		t.Errorf("nested = %#v", got["nested"])
	}
	if !reflect.DeepEqual(got["list"], []any{"x", "y"}) {
		t.Errorf("list = %#v", got["list"])
	}
}

func TestCodec_DecodeAcrossChunks(t *testing.T) {
	codec := msgpack.Codec()

	first, err := codec.Encode(sconcomm.Envelope{"seq": "first", "pad": "0123456789"}, sconcomm.EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	second, err := codec.Encode(sconcomm.Envelope{"seq": "second"}, sconcomm.EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for _, size := range []int{1, 2, 5, 1024} {
		t.Run(fmt.Sprintf("chunk%d", size), func(t *testing.T) {
			wire := append(append(append([]byte{}, first...), "raw"...), second...)
			more := feed(wire[min(size, len(wire)):], size)

			env, leftover, err := codec.Decode(wire[:min(size, len(wire))], more)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if env["seq"] != "first" {
				t.Errorf("seq = %v", env["seq"])
			}

			// Whatever the decoder pulled past the envelope comes back.
			var rest bytes.Buffer
			rest.Write(leftover)
			for {
				chunk, err := more()
				if err != nil {
					break
				}
				rest.Write(chunk)
			}
			want := append([]byte("raw"), second...)
			if !bytes.Equal(rest.Bytes(), want) {
				t.Errorf("remaining bytes = %x, want %x", rest.Bytes(), want)
			}
		})
	}
}

func TestCodec_Truncated(t *testing.T) {
	codec := msgpack.Codec()

	data, err := codec.Encode(sconcomm.Envelope{"hello": "world!"}, sconcomm.EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, _, err = codec.Decode(data[:len(data)-2], feed(nil, 1)); err == nil {
		t.Error("expected error for truncated envelope")
	}
}

func TestCodec_RejectsNonMap(t *testing.T) {
	codec := msgpack.Codec()

	for name, v := range map[string]any{"int": 7, "nil": nil, "string": "x"} {
		data, err := impl.Marshal(v)
		if err != nil {
			t.Fatalf("%s: Marshal failed: %v", name, err)
		}
		if _, _, err = codec.Decode(data, feed(nil, 1)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCodec_Canonical(t *testing.T) {
	codec := msgpack.Codec()

	env := sconcomm.Envelope{}
	for i := 0; i < 20; i++ {
		env[fmt.Sprintf("key%02d", i)] = i
	}

	want, err := codec.Encode(env, sconcomm.EncodeOptions{Canonical: true})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := codec.Encode(env, sconcomm.EncodeOptions{Canonical: true})
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatal("canonical encoding is not deterministic")
		}
	}
}

func TestCodec_CompactInts(t *testing.T) {
	codec := msgpack.Codec()
	env := sconcomm.Envelope{"n": int64(1)}

	wide, err := codec.Encode(env, sconcomm.EncodeOptions{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	compact, err := codec.Encode(env, sconcomm.EncodeOptions{CompactInts: true})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(compact) > len(wide) {
		t.Errorf("compact encoding is %d bytes, wide is %d", len(compact), len(wide))
	}
}

func TestCodec_ClientServer(t *testing.T) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	server, err := sconcomm.NewServer(c2sR, s2cW,
		sconcomm.CustomCodecOption(msgpack.Codec()),
		sconcomm.LoggerOption(sconcomm.NopLogger()),
		sconcomm.OnRequestOption(func(m sconcomm.Message, reply sconcomm.Responder) {
			data, _ := m.Payload.Bytes()
			_ = reply(context.Background(), sconcomm.Envelope{"echo": m.Envelope["hello"]},
				sconcomm.WithPayload(bytes.NewReader(data), int64(len(data))), sconcomm.WithCompactInts())
		}),
	)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	client, err := sconcomm.NewClient(s2cR, c2sW,
		sconcomm.CustomCodecOption(msgpack.Codec()),
		sconcomm.LoggerOption(sconcomm.NopLogger()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx)

	payload := []byte("This is some cool data")
	for i := 0; i < 3; i++ {
		resp, err := client.Request(ctx, sconcomm.Envelope{"hello": "world!"},
			sconcomm.WithPayload(bytes.NewReader(payload), int64(len(payload))))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if resp.Envelope["echo"] != "world!" {
			t.Errorf("response = %v", resp.Envelope)
		}
		got, err := resp.Payload.Bytes()
		if err != nil {
			t.Fatalf("read payload: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("payload = %q, want %q", got, payload)
		}
	}

	if err = client.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	select {
	case <-server.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not disconnect")
	}
}
