// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testutil provides in-memory stand-ins for the pgx pool and
// transactions so the request-scope machinery can be tested without a
// PostgreSQL server.
//
// The fakes understand exactly two statement shapes: SET LOCAL <name> = '<v>'
// and SELECT ... current_setting($1, true). Everything else is recorded and
// answered with an empty command tag.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnsupported is returned for calls the fakes do not model.
var ErrUnsupported = errors.New("testutil: unsupported call")

// Pool is a fake connection pool that counts checkouts and checkins.
type Pool struct {
	// BeginErr, when set, fails Begin without checking out a connection.
	BeginErr error
	// ExecErr, when set, is consulted for every statement on every tx.
	ExecErr func(sql string) error
	// CommitErr is returned by Commit on every tx.
	CommitErr error
	// OnStatement, when set, runs before each statement on a tx. It may block
	// to simulate a slow query.
	OnStatement func(ctx context.Context, sql string)

	mu         sync.Mutex
	checkouts  int
	checkins   int
	txs        []*Tx
	statements []string
	closed     bool
}

// NewPool creates an empty fake pool.
func NewPool() *Pool {
	return &Pool{}
}

// Begin checks out a connection and opens a transaction on it.
func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts++
	tx := &Tx{pool: p, settings: map[string]string{}}
	p.txs = append(p.txs, tx)
	return tx, nil
}

// Exec runs a statement outside any transaction.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.record(sql)
	return pgconn.NewCommandTag(commandTag(sql)), nil
}

// Query is not modelled.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.record(sql)
	return nil, ErrUnsupported
}

// QueryRow answers current_setting reads. Outside a transaction no session
// variable is ever set.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	p.record(sql)
	if strings.Contains(sql, "current_setting") {
		return Row{Values: []any{""}}
	}
	return Row{Err: ErrUnsupported}
}

// Ping always succeeds on an open pool.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("testutil: pool closed")
	}
	return nil
}

// Close marks the pool closed.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Checkouts returns how many connections were handed out for transactions.
func (p *Pool) Checkouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkouts
}

// Checkins returns how many connections came back.
func (p *Pool) Checkins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkins
}

// Outstanding returns connections currently checked out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkouts - p.checkins
}

// Txs returns every transaction opened so far.
func (p *Pool) Txs() []*Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Tx(nil), p.txs...)
}

// Statements returns statements issued outside a transaction.
func (p *Pool) Statements() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statements...)
}

func (p *Pool) record(sql string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statements = append(p.statements, sql)
}

func (p *Pool) checkin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkins++
}

// Tx is a fake transaction. Methods it does not override panic through the
// nil embedded interface.
type Tx struct {
	pgx.Tx

	pool *Pool

	mu         sync.Mutex
	statements []string
	settings   map[string]string
	commits    int
	rollbacks  int
	closed     bool
}

// Exec records sql and applies SET LOCAL statements.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := t.before(ctx, sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	if name, value, ok := parseSetLocal(sql); ok {
		t.mu.Lock()
		t.settings[name] = value
		t.mu.Unlock()
	}
	return pgconn.NewCommandTag(commandTag(sql)), nil
}

// Query is not modelled.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := t.before(ctx, sql); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

// QueryRow answers current_setting($1, true) from the settings bound on t.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := t.before(ctx, sql); err != nil {
		return Row{Err: err}
	}
	if strings.Contains(sql, "current_setting") && len(args) > 0 {
		name, _ := args[0].(string)
		t.mu.Lock()
		value := t.settings[name]
		t.mu.Unlock()
		return Row{Values: []any{value}}
	}
	return Row{Err: ErrUnsupported}
}

// Commit ends the transaction and checks the connection back in. Like the
// real driver, a cancelled ctx fails the call before anything is sent.
func (t *Tx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.end(); err != nil {
		return err
	}
	t.mu.Lock()
	t.commits++
	t.mu.Unlock()
	return t.pool.CommitErr
}

// Rollback ends the transaction and checks the connection back in.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.end(); err != nil {
		return err
	}
	t.mu.Lock()
	t.rollbacks++
	t.mu.Unlock()
	return nil
}

// Statements returns the statements issued on t in order.
func (t *Tx) Statements() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.statements...)
}

// Setting returns a SET LOCAL value bound on t.
func (t *Tx) Setting(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.settings[name]
	return v, ok
}

// Commits returns how many times Commit succeeded in ending t.
func (t *Tx) Commits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}

// Rollbacks returns how many times Rollback succeeded in ending t.
func (t *Tx) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

// Closed reports whether t has been committed or rolled back.
func (t *Tx) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tx) before(ctx context.Context, sql string) error {
	if t.pool.OnStatement != nil {
		t.pool.OnStatement(ctx, sql)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.statements = append(t.statements, sql)
	if t.pool.ExecErr != nil {
		if err := t.pool.ExecErr(sql); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) end() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.mu.Unlock()
	t.pool.checkin()
	return nil
}

// Row is a fake pgx.Row.
type Row struct {
	Values []any
	Err    error
}

// Scan assigns Values to dest pointers of matching types.
func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return fmt.Errorf("testutil: scan %d values into %d targets", len(r.Values), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("testutil: scan target %d is not a pointer", i)
		}
		if r.Values[i] == nil {
			target.Elem().SetZero()
			continue
		}
		value := reflect.ValueOf(r.Values[i])
		if !value.Type().AssignableTo(target.Elem().Type()) {
			return fmt.Errorf("testutil: cannot scan %T into %T", r.Values[i], d)
		}
		target.Elem().Set(value)
	}
	return nil
}

func parseSetLocal(sql string) (name, value string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(sql), "SET LOCAL ")
	if !found {
		return "", "", false
	}
	name, literal, found := strings.Cut(rest, " = ")
	if !found || len(literal) < 2 || literal[0] != '\'' || literal[len(literal)-1] != '\'' {
		return "", "", false
	}
	value = strings.ReplaceAll(literal[1:len(literal)-1], "''", "'")
	return strings.TrimSpace(name), value, true
}

func commandTag(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
