package redis

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gomodule/redigo/redis"
)

// fakeServer implements the handful of commands the store issues.
type fakeServer struct {
	mu       sync.Mutex
	values   map[string][]byte
	versions map[string]int // bumped on every write, for WATCH
	sets     map[string]map[string]struct{}
	execs    int

	// beforeExec runs with the server locked right before a transaction,
	// standing in for another client writing between WATCH and EXEC.
	beforeExec func()
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		values:   make(map[string][]byte),
		versions: make(map[string]int),
		sets:     make(map[string]map[string]struct{}),
	}
}

func (f *fakeServer) pool() *redis.Pool {
	return &redis.Pool{
		MaxIdle: 2,
		Dial:    func() (redis.Conn, error) { return &fakeConn{srv: f}, nil },
	}
}

func argString(a interface{}) string {
	switch v := a.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func (f *fakeServer) exec(cmd string, args []interface{}) (interface{}, error) {
	s := make([]string, len(args))
	for i, a := range args {
		s[i] = argString(a)
	}
	switch strings.ToUpper(cmd) {
	case "PING":
		return "PONG", nil
	case "GET":
		v, ok := f.values[s[0]]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SET":
		if len(s) > 2 && strings.EqualFold(s[2], "NX") {
			if _, ok := f.values[s[0]]; ok {
				return nil, nil
			}
		}
		f.values[s[0]] = []byte(s[1])
		f.versions[s[0]]++
		return "OK", nil
	case "EXISTS":
		if _, ok := f.values[s[0]]; ok {
			return int64(1), nil
		}
		return int64(0), nil
	case "INCR":
		var n int64
		if v, ok := f.values[s[0]]; ok {
			fmt.Sscan(string(v), &n)
		}
		n++
		f.values[s[0]] = []byte(fmt.Sprint(n))
		f.versions[s[0]]++
		return n, nil
	case "SADD":
		set, ok := f.sets[s[0]]
		if !ok {
			set = make(map[string]struct{})
			f.sets[s[0]] = set
		}
		set[s[1]] = struct{}{}
		return int64(1), nil
	case "SREM":
		delete(f.sets[s[0]], s[1])
		return int64(1), nil
	case "SSCAN":
		keys := make([]string, 0)
		for k := range f.sets[s[0]] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]interface{}, len(keys))
		for i, k := range keys {
			items[i] = []byte(k)
		}
		return []interface{}{[]byte("0"), items}, nil
	}
	return nil, errors.New("ERR unknown command " + cmd)
}

type queued struct {
	cmd  string
	args []interface{}
}

type fakeConn struct {
	srv     *fakeServer
	multi   bool
	queue   []queued
	watched map[string]int
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }
func (c *fakeConn) Flush() error { return nil }

func (c *fakeConn) Receive() (interface{}, error) { return nil, errors.New("not supported") }

func (c *fakeConn) Send(cmd string, args ...interface{}) error {
	switch strings.ToUpper(cmd) {
	case "MULTI":
		c.multi = true
	case "DISCARD":
		c.multi = false
		c.queue = nil
	case "UNWATCH":
		c.watched = nil
	default:
		c.queue = append(c.queue, queued{cmd: cmd, args: args})
	}
	return nil
}

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	switch strings.ToUpper(cmd) {
	case "":
		if !c.multi {
			c.queue = nil
		}
		return nil, nil
	case "WATCH":
		if c.watched == nil {
			c.watched = make(map[string]int)
		}
		for _, a := range args {
			key := argString(a)
			c.watched[key] = c.srv.versions[key]
		}
		return "OK", nil
	case "UNWATCH":
		c.watched = nil
		return "OK", nil
	case "EXEC":
		c.srv.execs++
		if c.srv.beforeExec != nil {
			c.srv.beforeExec()
		}
		watched := c.watched
		c.watched = nil
		for key, version := range watched {
			if c.srv.versions[key] != version {
				c.queue = nil
				c.multi = false
				return nil, nil
			}
		}
		results := make([]interface{}, 0, len(c.queue))
		for _, q := range c.queue {
			r, err := c.srv.exec(q.cmd, q.args)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		c.queue = nil
		c.multi = false
		return results, nil
	}
	return c.srv.exec(cmd, args)
}
