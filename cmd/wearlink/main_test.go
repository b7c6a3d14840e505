package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/trace"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, logs bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

// ============================================================================
// Offline commands
// ============================================================================

func TestFamilies(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "families")
	require.NoError(t, err)
	for _, name := range []string{codec.FamilyCompact8, codec.FamilyXiaomiSPP, codec.FamilyCMF, codec.FamilyThermal} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "families", "-o", "yaml")
	require.NoError(t, err)

	var infos []familyInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 4)
	for _, info := range infos {
		assert.Positive(t, info.MTU)
		assert.NotEmpty(t, info.Checksum)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "encode", "--cmd", "1", "--sub", "2", "--args", "0a0b")
	require.NoError(t, err)

	raw := strings.TrimSpace(out)
	_, err = hex.DecodeString(raw)
	require.NoError(t, err)

	out, err = execute(t, "decode", "ffff"+raw+raw, "-o", "yaml")
	require.NoError(t, err)

	var views []frameView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, uint16(1), v.Command)
		assert.Equal(t, uint16(2), v.SubCommand)
		assert.Equal(t, "0a0b", v.Args)
		assert.Empty(t, v.Error)
	}

	out, err = execute(t, "decode", raw)
	require.NoError(t, err)
	assert.Contains(t, out, "cmd=0x01 sub=0x02")
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "decode", "zz")
	require.Error(t, err)

	_, err = execute(t, "decode", "0102030405")
	require.ErrorContains(t, err, "no compact8 frame")

	_, err = execute(t, "decode", "--family", "nokia", "00")
	require.Error(t, err)
}

func TestEncode_Errors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "encode", "--cmd", "1", "--args", "xyz")
	require.ErrorContains(t, err, "invalid --args")

	_, err = execute(t, "encode", "--cmd", "1", "-o", "json")
	require.ErrorContains(t, err, "unknown output format")
}

func TestParseHex(t *testing.T) {
	t.Parallel()

	b, err := parseHex(" 0x01:02 0a\n")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x0a}, b)
}

// ============================================================================
// Trace files
// ============================================================================

func TestTrace(t *testing.T) {
	t.Parallel()

	proto, err := codec.NewRegistry().Lookup(codec.FamilyCompact8)
	require.NoError(t, err)
	raw, err := proto.Encode(0x10, 0x01, []byte{0x99})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "link.trace")
	rec, err := trace.Create(path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, rec.Write(trace.Event{LinkID: "l1", Time: now, Direction: trace.Outbound, Family: proto.Family, Data: raw}))
	require.NoError(t, rec.Write(trace.Event{LinkID: "l1", Time: now, Direction: trace.Dropped, Family: proto.Family, Data: []byte{0xFF}, Note: "bad checksum"}))
	require.NoError(t, rec.Close())

	out, err := execute(t, "trace", path, "--decode", "-o", "yaml")
	require.NoError(t, err)

	var views []traceView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "outbound", views[0].Direction)
	assert.Contains(t, views[0].Note, "cmd=0x10")
	assert.Equal(t, "dropped", views[1].Direction)
	assert.Equal(t, "bad checksum", views[1].Note)

	_, err = execute(t, "trace", filepath.Join(t.TempDir(), "missing.trace"))
	require.Error(t, err)
}

// ============================================================================
// Ping
// ============================================================================

// serveDevice answers every frame with cmd 0x42 by a frame carrying 0x99.
func serveDevice(t *testing.T, ln net.Listener, proto *codec.Protocol) {
	t.Helper()

	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	dec := codec.NewStreamDecoder(proto, 0)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, raw := range dec.Feed(buf[:n]) {
			f, err := proto.Decode(raw)
			if err != nil || f.Command() != 0x42 {
				continue
			}
			reply, err := proto.Encode(0x42, 0x01, []byte{0x99})
			if err != nil {
				return
			}
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}
}

func TestPing_TCP(t *testing.T) {
	t.Parallel()

	proto, err := codec.NewRegistry().Lookup(codec.FamilyCompact8)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go serveDevice(t, ln, proto)

	dir := t.TempDir()
	profile := filepath.Join(dir, "ping.toml")
	tracePath := filepath.Join(dir, "ping.trace")
	content := fmt.Sprintf("family = %q\nlog_level = \"error\"\n[transport]\nkind = \"tcp\"\naddress = %q\n",
		proto.Family, ln.Addr().String())
	require.NoError(t, os.WriteFile(profile, []byte(content), 0o600))

	out, err := execute(t, "ping", "-c", profile, "--cmd", "66", "--args", "01",
		"--listen", "500ms", "--trace", tracePath)
	require.NoError(t, err)

	assert.Contains(t, out, "outbound")
	assert.Contains(t, out, "inbound")
	assert.Contains(t, out, "initialized")
	assert.Contains(t, out, "frames sent=1 received=1")

	events, err := trace.Open(tracePath)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, trace.Outbound, events[0].Direction)
	assert.Equal(t, trace.Inbound, events[1].Direction)
}

func TestPing_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "ping")
	require.Error(t, err)
}
