package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readDocs returns the raw content of both documents, with nil meaning the
// file is absent.
func readDocs(t *testing.T, m *Manager) (registry, settings []byte) {
	t.Helper()
	registry = readOrNil(t, m.RegistryPath())
	settings = readOrNil(t, m.SettingsPath())
	return registry, settings
}

func readOrNil(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return data
}

func TestTransactionCommit(t *testing.T) {
	m := newTestManager(t)

	err := m.Transaction(func(tx *Tx) error {
		if err := tx.AddRepository("acme", "tools", map[string]any{
			"plugins": []string{"lint"},
		}); err != nil {
			return err
		}
		return tx.EnablePlugin("acme/tools", "lint")
	})
	require.NoError(t, err)

	repos, err := m.Repositories()
	require.NoError(t, err)
	assert.Contains(t, repos, "acme/tools")

	enabled, err := m.EnabledPlugins()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, enabled["acme/tools"])
}

func TestTransactionRollbackOnError(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRepository("acme", "tools", nil))
	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))

	regBefore, setBefore := readDocs(t, m)

	abort := errors.New("business rule says no")
	err := m.Transaction(func(tx *Tx) error {
		if err := tx.AddRepository("other", "repo", nil); err != nil {
			return err
		}
		if err := tx.EnablePlugin("other/repo", "extra"); err != nil {
			return err
		}
		if err := tx.RemoveRepository("acme", "tools"); err != nil {
			return err
		}
		return abort
	})
	require.ErrorIs(t, err, abort)

	regAfter, setAfter := readDocs(t, m)
	assert.Equal(t, regBefore, regAfter, "registry restored byte-identical")
	assert.Equal(t, setBefore, setAfter, "settings restored byte-identical")
}

func TestTransactionRollbackRemovesCreatedDocuments(t *testing.T) {
	m := newTestManager(t)

	// Neither document exists yet.
	_, statErr := os.Stat(m.RegistryPath())
	require.True(t, os.IsNotExist(statErr))

	abort := errors.New("abort")
	err := m.Transaction(func(tx *Tx) error {
		if err := tx.AddRepository("acme", "tools", nil); err != nil {
			return err
		}
		if err := tx.EnablePlugin("acme/tools", "lint"); err != nil {
			return err
		}
		return abort
	})
	require.ErrorIs(t, err, abort)

	_, statErr = os.Stat(m.RegistryPath())
	assert.True(t, os.IsNotExist(statErr), "registry created inside the scope must be gone")
	_, statErr = os.Stat(m.SettingsPath())
	assert.True(t, os.IsNotExist(statErr), "settings created inside the scope must be gone")
}

func TestTransactionRollbackOnPanic(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRepository("acme", "tools", nil))

	regBefore, setBefore := readDocs(t, m)

	func() {
		defer func() {
			p := recover()
			require.NotNil(t, p, "panic must propagate out of the scope")
			assert.Equal(t, "deliberate", p)
		}()
		_ = m.Transaction(func(tx *Tx) error {
			if err := tx.RemoveRepository("acme", "tools"); err != nil {
				return err
			}
			panic("deliberate")
		})
	}()

	regAfter, setAfter := readDocs(t, m)
	assert.Equal(t, regBefore, regAfter)
	assert.Equal(t, setBefore, setAfter)
}

func TestTransactionMutationsVisibleInsideScope(t *testing.T) {
	m := newTestManager(t)

	err := m.Transaction(func(tx *Tx) error {
		if err := tx.AddRepository("acme", "tools", nil); err != nil {
			return err
		}
		repos, err := tx.Repositories()
		if err != nil {
			return err
		}
		if _, ok := repos["acme/tools"]; !ok {
			return errors.New("mutation not visible inside transaction")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNestedOperationsAfterTransaction(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Transaction(func(tx *Tx) error {
		return tx.AddRepository("acme", "tools", nil)
	}))

	// The manager lock must be released after the scope ends.
	require.NoError(t, m.AddRepository("other", "repo", nil))

	repos, err := m.Repositories()
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}
