package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grahambrooks/gitkit/backend"
	"github.com/grahambrooks/gitkit/backend/memory"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/repository"
	"github.com/grahambrooks/gitkit/worktree"
)

func sig(name string) object.Signature {
	return object.Signature{Name: name, Email: name + "@example.com", When: time.Unix(1700000000, 0).UTC(), TZOffsetMin: 0}
}

func TestOpenDefaultsToSHA1WithEmptyIndex(t *testing.T) {
	gitDir := memory.New()
	repo, err := repository.Open(gitDir, nil)
	require.NoError(t, err)
	assert.Equal(t, hash.FormatSHA1, repo.Format)
	assert.Equal(t, 0, repo.Index().Len())
}

func TestCommitFromIndexThenCheckout(t *testing.T) {
	gitDir := memory.New()
	workDir := memory.New()
	repo, err := repository.Open(gitDir, workDir)
	require.NoError(t, err)

	blobOID, err := repo.Store.WriteObject(objstore.TypeBlob, []byte("hello\n"))
	require.NoError(t, err)
	repo.Index().Insert(index.Entry{Path: "greeting.txt", Mode: index.ModeRegular, OID: blobOID})

	commitOID, err := repo.Commit(repository.CommitOptions{
		Author:    sig("author"),
		Committer: sig("committer"),
		Message:   "initial commit\n",
		RefName:   "refs/heads/main",
	})
	require.NoError(t, err)
	assert.False(t, commitOID.IsZero())

	ev, err := repo.Checkout(context.Background(), commitOID, worktree.Options{})
	require.NoError(t, err)
	assert.False(t, ev.NewHead.IsZero())

	data, err := backend.ReadFile(workDir, "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestBareRepositoryCheckoutFails(t *testing.T) {
	gitDir := memory.New()
	repo, err := repository.Open(gitDir, nil)
	require.NoError(t, err)

	_, err = repo.Checkout(context.Background(), hash.ZeroOID(repo.Format), worktree.Options{})
	assert.ErrorIs(t, err, repository.ErrBare)
}

func TestSubscribeReceivesCommitEvent(t *testing.T) {
	gitDir := memory.New()
	repo, err := repository.Open(gitDir, nil)
	require.NoError(t, err)

	ch, unsubscribe := repo.Subscribe(4)
	defer unsubscribe()

	blobOID, err := repo.Store.WriteObject(objstore.TypeBlob, []byte("x"))
	require.NoError(t, err)
	repo.Index().Insert(index.Entry{Path: "x.txt", Mode: index.ModeRegular, OID: blobOID})

	_, err = repo.Commit(repository.CommitOptions{
		Author:    sig("a"),
		Committer: sig("a"),
		Message:   "m\n",
		RefName:   "refs/heads/main",
	})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "refs/heads/main", ev.Resource)
		assert.Equal(t, "updated", ev.Kind)
	default:
		t.Fatal("expected a published event")
	}
}
