// Copyright 2025 Arion Yau
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
package executor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteEcho(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	out, err := r.Execute(ctx, json.RawMessage(`{"kind":"echo","input":{"a":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out.(json.RawMessage)))

	// Plain payloads come back as they are
	out, err = r.Execute(ctx, json.RawMessage(`"Q1"`))
	require.NoError(t, err)
	assert.Equal(t, `"Q1"`, string(out.(json.RawMessage)))
}

func TestExecuteFail(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), json.RawMessage(`{"kind":"fail","error":"boom"}`))
	assert.EqualError(t, err, "boom")

	_, err = r.Execute(context.Background(), json.RawMessage(`{"kind":"fail"}`))
	assert.Error(t, err)
}

func TestExecuteUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), json.RawMessage(`{"kind":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = r.Execute(context.Background(), json.RawMessage(`{"kind":"sql","query":"SELECT 1"}`))
	assert.ErrorIs(t, err, ErrUnknownKind, "sql is only registered once a database is open")
}

func TestRegisterCustomKind(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(ctx context.Context, req *Request) (interface{}, error) {
		var n int
		if err := json.Unmarshal(req.Input, &n); err != nil {
			return nil, err
		}
		return n * 2, nil
	})

	out, err := r.Execute(context.Background(), json.RawMessage(`{"kind":"double","input":21}`))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, []string{"double", "echo", "fail"}, r.Kinds())
}

func TestExecuteSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (name) VALUES ('ada'), ('linus')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r := NewRegistry()
	require.NoError(t, r.OpenSQL(path))
	defer r.Close()

	out, err := r.Execute(context.Background(),
		json.RawMessage(`{"kind":"sql","query":"SELECT id, name FROM users WHERE name = ?","args":["ada"]}`))
	require.NoError(t, err)

	rows, ok := out.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.EqualValues(t, 1, rows[0]["id"])

	_, err = r.Execute(context.Background(), json.RawMessage(`{"kind":"sql","query":"DELETE FROM users"}`))
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = r.Execute(context.Background(), json.RawMessage(`{"kind":"sql","query":"SELECT 1; DROP TABLE users"}`))
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = r.Execute(context.Background(), json.RawMessage(`{"kind":"sql","query":"SELECT * FROM missing"}`))
	assert.Error(t, err)
}

func TestReadOnly(t *testing.T) {
	assert.True(t, readOnly("select 1"))
	assert.True(t, readOnly("  WITH x AS (SELECT 1) SELECT * FROM x;"))
	assert.False(t, readOnly("UPDATE t SET a = 1"))
	assert.False(t, readOnly("SELECT 1; SELECT 2"))
}
