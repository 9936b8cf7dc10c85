// Package redisstub runs a minimal in-process Redis server for tests. It
// implements just the commands the module issues: XADD for conversion events
// and INCR, EXPIRE, and TTL for shared rate limit counters, plus enough of
// the connection handshake to satisfy go-redis clients.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	streams  map[string][]StreamEntry
	kv       map[string]*kvEntry
	closed   chan struct{}
}

// StreamEntry is one XADD record captured by the stub.
type StreamEntry struct {
	ID     string
	Values map[string]string
}

type kvEntry struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:    opts,
		streams: make(map[string][]StreamEntry),
		kv:      make(map[string]*kvEntry),
		closed:  make(chan struct{}),
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// Entries returns a copy of the records appended to the named stream.
func (s *Server) Entries(stream string) []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.streams[stream]
	out := make([]StreamEntry, len(entries))
	copy(out, entries)
	return out
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR wrong number of arguments") != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "HELLO":
			// go-redis treats an error reply as a RESP2-only server and
			// falls back to a plain AUTH, so the handshake still succeeds.
			password := helloPassword(args)
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
			}
			if err := writeError(writer, "ERR unknown command 'HELLO'"); err != nil {
				return
			}
		case "CLIENT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "AUTH":
			ok := false
			switch len(args) {
			case 2:
				ok = s.opts.Password == "" || args[1] == s.opts.Password
			case 3:
				ok = s.opts.Password == "" || args[2] == s.opts.Password
			}
			if ok {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else {
				if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
					return
				}
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, args) {
				return
			}
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func helloPassword(args []string) string {
	for i := 1; i < len(args)-2; i++ {
		if strings.ToUpper(args[i]) == "AUTH" {
			return args[i+2]
		}
	}
	return ""
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) bool {
	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "XADD":
		return s.handleXAdd(writer, args)
	case "INCR":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'incr'") == nil
		}
		return writeInteger(writer, s.incr(args[1])) == nil
	case "EXPIRE":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'expire'") == nil
		}
		secs, err := strconv.Atoi(args[2])
		if err != nil {
			return writeError(writer, "ERR value is not an integer or out of range") == nil
		}
		s.expire(args[1], time.Duration(secs)*time.Second)
		return writeInteger(writer, 1) == nil
	case "TTL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'ttl'") == nil
		}
		return writeInteger(writer, s.ttl(args[1])) == nil
	default:
		return writeError(writer, fmt.Sprintf("ERR unsupported command '%s'", args[0])) == nil
	}
}

func (s *Server) handleXAdd(writer *bufio.Writer, args []string) bool {
	// XADD stream [MAXLEN [~] n] id field value [field value ...]
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'") == nil
	}
	stream := args[1]
	rest := args[2:]
	if strings.ToUpper(rest[0]) == "MAXLEN" {
		rest = rest[1:]
		if len(rest) > 0 && rest[0] == "~" {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return writeError(writer, "ERR syntax error") == nil
		}
		rest = rest[1:]
	}
	if len(rest) < 3 || len(rest)%2 == 0 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'") == nil
	}
	id := rest[0]
	values := make(map[string]string, (len(rest)-1)/2)
	for i := 1; i+1 < len(rest); i += 2 {
		values[rest[i]] = rest[i+1]
	}

	s.mu.Lock()
	if id == "*" {
		id = fmt.Sprintf("%d-%d", time.Now().UnixMilli(), len(s.streams[stream]))
	}
	s.streams[stream] = append(s.streams[stream], StreamEntry{ID: id, Values: values})
	s.mu.Unlock()

	return writeBulkString(writer, id) == nil
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &kvEntry{}
		s.kv[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.kv[key]; ok {
		entry.expiry = time.Now().Add(ttl)
	}
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.kv, key)
		return -2
	}
	secs := int64(remaining / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("expected array, got %q", prefix)
	}
	count, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		value, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, value)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("expected bulk string, got %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "+%s\r\n", value)
	return err
}

func writeBulkString(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return err
}

func writeInteger(w *bufio.Writer, value int64) error {
	_, err := fmt.Fprintf(w, ":%d\r\n", value)
	return err
}

func writeError(w *bufio.Writer, msg string) error {
	_, err := fmt.Fprintf(w, "-%s\r\n", msg)
	return err
}
