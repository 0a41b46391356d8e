package planner_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/kvengine/memkv"
	"github.com/typedkv/typedkv/internal/metastore"
	. "github.com/typedkv/typedkv/internal/planner"
	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/storage"
	"github.com/typedkv/typedkv/internal/types"
)

type task struct {
	ID          string
	Owner       string
	Priority    float64
	ProjectCode string
}

func (task) TypeName() string { return "task" }

type project struct {
	Code   string
	Status string
}

func (project) TypeName() string { return "project" }

func taskBinding() types.Binding {
	return types.Binding{
		TypeName: "task",
		Primary: types.IndexDescriptor{
			Name:       "primary",
			Unique:     true,
			Properties: []types.KeyProperty{{Name: "ID"}},
		},
		Alternates: []types.IndexDescriptor{
			{
				Name:       "byOwnerPriority",
				Properties: []types.KeyProperty{{Name: "Owner"}, {Name: "Priority"}},
			},
		},
		References: []types.ReferenceProperty{
			{Name: "Project", ForeignType: "project", LocalToForeign: map[string]string{"ProjectCode": "Code"}},
		},
	}
}

func projectBinding() types.Binding {
	return types.Binding{
		TypeName: "project",
		Primary: types.IndexDescriptor{
			Name:       "primary",
			Unique:     true,
			Properties: []types.KeyProperty{{Name: "Code"}},
		},
	}
}

func newTaskStorage(t *testing.T) (*storage.Storage, kvengine.Engine) {
	t.Helper()
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	meta, err := metastore.Open(ctx, eng)
	require.NoError(t, err)
	s, err := storage.Open(ctx, eng, meta, reflect.TypeOf(task{}), taskBinding())
	require.NoError(t, err)
	return s, eng
}

func seedTasks(t *testing.T, s *storage.Storage, eng kvengine.Engine, rows []task) {
	t.Helper()
	ctx := context.Background()
	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	for _, r := range rows {
		row := r
		require.NoError(t, s.Insert(ctx, txn, &row))
	}
	require.NoError(t, txn.Commit(ctx))
}

func collectTasks(t *testing.T, eng kvengine.Engine, txn kvengine.Txn, exec Executor) []*task {
	t.Helper()
	ctx := context.Background()
	it, err := exec.Open(ctx, txn)
	require.NoError(t, err)
	defer it.Close()

	var out []*task
	for {
		rec, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, rec.(*task))
	}
	return out
}

func TestBuildEqualityUsesAlternateIndex(t *testing.T) {
	s, eng := newTaskStorage(t)
	seedTasks(t, s, eng, []task{
		{ID: "1", Owner: "alice", Priority: 1},
		{ID: "2", Owner: "bob", Priority: 2},
		{ID: "3", Owner: "alice", Priority: 3},
	})

	exec, err := Build(s, nil, Request{
		Filter: &expr.Comparison{Property: "Owner", Op: expr.OpEquals, Value: "alice"},
	})
	require.NoError(t, err)
	require.Contains(t, exec.Explain(), "byOwnerPriority")

	ctx := context.Background()
	txn, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	rows := collectTasks(t, eng, txn, exec)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.Equal(t, "alice", r.Owner)
	}
}

func TestBuildPrimaryKeyMatch(t *testing.T) {
	s, eng := newTaskStorage(t)
	seedTasks(t, s, eng, []task{{ID: "1", Owner: "alice", Priority: 1}})

	exec, err := Build(s, nil, Request{
		Filter: &expr.Comparison{Property: "ID", Op: expr.OpEquals, Value: "1"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	txn, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	rows := collectTasks(t, eng, txn, exec)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0].ID)
}

func TestBuildUnionSplitsDisjointLanes(t *testing.T) {
	s, eng := newTaskStorage(t)
	seedTasks(t, s, eng, []task{
		{ID: "1", Owner: "alice", Priority: 1},
		{ID: "2", Owner: "bob", Priority: 2},
		{ID: "3", Owner: "carol", Priority: 3},
	})

	exec, err := Build(s, nil, Request{
		Filter: &expr.Or{
			Left:  &expr.Comparison{Property: "ID", Op: expr.OpEquals, Value: "1"},
			Right: &expr.Comparison{Property: "ID", Op: expr.OpEquals, Value: "3"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, exec.Explain(), "Union")

	ctx := context.Background()
	txn, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	rows := collectTasks(t, eng, txn, exec)
	require.Len(t, rows, 2)
}

func TestBuildMergeBackWhenBranchHasNoUsableIndex(t *testing.T) {
	s, eng := newTaskStorage(t)
	seedTasks(t, s, eng, []task{
		{ID: "1", Owner: "alice", Priority: 1},
		{ID: "2", Owner: "alice", Priority: 2},
	})

	exec, err := Build(s, nil, Request{
		Filter: &expr.Or{
			Left:  &expr.Comparison{Property: "Owner", Op: expr.OpEquals, Value: "alice"},
			Right: &expr.Comparison{Property: "Priority", Op: expr.OpGreater, Value: 100.0},
		},
	})
	require.NoError(t, err)
	require.Contains(t, exec.Explain(), "FullScan")

	ctx := context.Background()
	txn, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	rows := collectTasks(t, eng, txn, exec)
	require.Len(t, rows, 2)
}

func TestBuildJoinedPlanResolvesViaReferenceProperty(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	meta, err := metastore.Open(ctx, eng)
	require.NoError(t, err)

	taskStore, err := storage.Open(ctx, eng, meta, reflect.TypeOf(task{}), taskBinding())
	require.NoError(t, err)
	projectStore, err := storage.Open(ctx, eng, meta, reflect.TypeOf(project{}), projectBinding())
	require.NoError(t, err)

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, projectStore.Insert(ctx, txn, &project{Code: "P1", Status: "active"}))
	require.NoError(t, projectStore.Insert(ctx, txn, &project{Code: "P2", Status: "closed"}))
	require.NoError(t, taskStore.Insert(ctx, txn, &task{ID: "1", Owner: "alice", ProjectCode: "P1"}))
	require.NoError(t, taskStore.Insert(ctx, txn, &task{ID: "2", Owner: "bob", ProjectCode: "P2"}))
	require.NoError(t, txn.Commit(ctx))

	foreign := func(typeName string) (TypeSource, bool) {
		if typeName == "project" {
			return projectStore, true
		}
		return nil, false
	}

	exec, err := Build(taskStore, foreign, Request{
		Filter: &expr.Comparison{Property: "Project.Status", Op: expr.OpEquals, Value: "active"},
	})
	require.NoError(t, err)
	require.Contains(t, exec.Explain(), "Joined")

	readTxn, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	rows := collectTasks(t, eng, readTxn, exec)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0].ID)
}

func TestBuildOrderingSortsWhenIndexDoesNotProvideIt(t *testing.T) {
	s, eng := newTaskStorage(t)
	seedTasks(t, s, eng, []task{
		{ID: "3", Owner: "alice", Priority: 3},
		{ID: "1", Owner: "alice", Priority: 1},
		{ID: "2", Owner: "alice", Priority: 2},
	})

	exec, err := Build(s, nil, Request{
		Filter:   &expr.Comparison{Property: "Owner", Op: expr.OpEquals, Value: "alice"},
		Ordering: []OrderTerm{{Property: "ID", Direction: types.Ascending}},
	})
	require.NoError(t, err)

	ctx := context.Background()
	txn, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	rows := collectTasks(t, eng, txn, exec)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"1", "2", "3"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
}
