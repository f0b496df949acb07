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
package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndVerify(t *testing.T) {
	passwords := NewPasswordService()

	encoded, err := passwords.HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=3,p=2$"))

	again, err := passwords.HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salt must differ")

	ok, err := passwords.VerifyPassword("hunter2", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = passwords.VerifyPassword("hunter3", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordRejectsEmpty(t *testing.T) {
	_, err := NewPasswordService().HashPassword("")
	assert.Error(t, err)
}

func TestPasswordInvalidHash(t *testing.T) {
	passwords := NewPasswordService()

	for _, encoded := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=65536,t=3,p=2$00$00",
		"$argon2id$v=19$m=65536,t=3,p=2$zz$00",
		"$argon2id$v=19$m=65536,t=3,p=2$00$",
		"$argon2id$v=19$garbage$00$00",
	} {
		_, err := passwords.VerifyPassword("x", encoded)
		assert.ErrorIs(t, err, ErrInvalidHash, encoded)
	}

	_, err := passwords.VerifyPassword("x", "$argon2id$v=16$m=65536,t=3,p=2$00$00")
	assert.Error(t, err)
}
