package rest_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/kasuganosora/realmcore/api/rest"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type charList struct {
	Characters []rest.CharacterView `json:"characters"`
	MaxSlots   int                  `json:"max_slots"`
}

func TestCharacters_CreateAndList(t *testing.T) {
	e := newEnv(t)
	_, token := e.register(t, "hero@x", "Hero")

	w := e.authed(http.MethodPost, "/api/characters", token, map[string]interface{}{"class_type": testutil.Rogue})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created rest.CharacterView
	decode(t, w, &created)
	assert.Equal(t, "Rogue", created.ClassName)
	assert.Equal(t, 1, created.Level)
	assert.Equal(t, testutil.Sword, created.Items[0])

	w = e.authed(http.MethodGet, "/api/characters", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list charList
	decode(t, w, &list)
	require.Len(t, list.Characters, 1)
	assert.Equal(t, created.ID, list.Characters[0].ID)
	assert.Equal(t, 2, list.MaxSlots)
}

func TestCharacters_CreateRefusals(t *testing.T) {
	e := newEnv(t)
	_, token := e.register(t, "hero@x", "Hero")
	create := func(body map[string]interface{}) int {
		return e.authed(http.MethodPost, "/api/characters", token, body).Code
	}

	assert.Equal(t, http.StatusBadRequest, create(map[string]interface{}{"class_type": 0x7777}))
	assert.Equal(t, http.StatusBadRequest, create(map[string]interface{}{"class_type": testutil.Wizard}), "locked class")
	assert.Equal(t, http.StatusBadRequest, create(map[string]interface{}{"class_type": testutil.Warlord}), "restricted class")
	assert.Equal(t, http.StatusBadRequest, create(map[string]interface{}{"class_type": testutil.Rogue, "skin_type": testutil.RogueSkin}),
		"skin not owned")

	assert.Equal(t, http.StatusCreated, create(map[string]interface{}{"class_type": testutil.Rogue}))
	assert.Equal(t, http.StatusCreated, create(map[string]interface{}{"class_type": testutil.Rogue}))
	assert.Equal(t, http.StatusBadRequest, create(map[string]interface{}{"class_type": testutil.Rogue}), "slot limit")

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/characters", map[string]interface{}{"class_type": testutil.Rogue}).Code)
}

func TestCharacters_Delete(t *testing.T) {
	e := newEnv(t)
	id, token := e.register(t, "hero@x", "Hero")
	w := e.authed(http.MethodPost, "/api/characters", token, map[string]interface{}{"class_type": testutil.Rogue})
	require.Equal(t, http.StatusCreated, w.Code)
	var chr rest.CharacterView
	decode(t, w, &chr)
	path := fmt.Sprintf("/api/characters/%d", chr.ID)

	assert.Equal(t, http.StatusBadRequest, e.authed(http.MethodDelete, "/api/characters/abc", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.authed(http.MethodDelete, "/api/characters/999", token, nil).Code)

	// A connected session holds the account lease.
	ctx := context.Background()
	lock, ok, err := e.leases.Acquire(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	w = e.authed(http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "account in use")
	_, err = e.leases.Release(ctx, id, lock)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, e.authed(http.MethodDelete, path, token, nil).Code)
	var list charList
	decode(t, e.authed(http.MethodGet, "/api/characters", token, nil), &list)
	assert.Empty(t, list.Characters)
}
