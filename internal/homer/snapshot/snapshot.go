// Package snapshot implements the policy that decides when to emit a graph
// snapshot between extraction and analysis: one per un-snapshotted Release
// node, and one every N commits since the last auto-* snapshot.
package snapshot

import (
	"sort"
	"strconv"
	"strings"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

const autoLabelPrefix = "auto-"

// Result summarizes the snapshots a Run call created.
type Result struct {
	Created []types.SnapshotInfo
}

// Run inspects the store and creates any snapshots the configured policy
// calls for. It is idempotent: a label that already exists is left alone
// (store.CreateSnapshot's own no-op), so running Run twice in a row without
// new releases or commits produces no new snapshots.
func Run(st *store.Store, cfg *config.Config) (*Result, error) {
	res := &Result{}

	releases, err := st.FindNodes(types.NodeFilter{Kind: types.NodeRelease})
	if err != nil {
		return nil, err
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].Name < releases[j].Name })

	for _, release := range releases {
		created, snap, err := createIfAbsent(st, release.Name)
		if err != nil {
			return res, err
		}
		if created {
			res.Created = append(res.Created, *snap)
		}
	}

	if cfg.Snapshot.AutoEveryCommits <= 0 {
		return res, nil
	}

	commits, err := st.FindNodes(types.NodeFilter{Kind: types.NodeCommit})
	if err != nil {
		return res, err
	}
	commitCount := len(commits)
	if commitCount == 0 {
		return res, nil
	}

	lastAuto, err := lastAutoCount(st)
	if err != nil {
		return res, err
	}

	if commitCount-lastAuto < cfg.Snapshot.AutoEveryCommits {
		return res, nil
	}

	label := autoLabelPrefix + strconv.Itoa(commitCount)
	created, snap, err := createIfAbsent(st, label)
	if err != nil {
		return res, err
	}
	if created {
		res.Created = append(res.Created, *snap)
	}
	return res, nil
}

func createIfAbsent(st *store.Store, label string) (bool, *types.SnapshotInfo, error) {
	if _, err := st.SnapshotByLabel(label); err == nil {
		return false, nil, nil
	} else if !herrors.IsNotFound(err) {
		return false, nil, err
	}
	snap, err := st.CreateSnapshot(label)
	if err != nil {
		return false, nil, err
	}
	return true, snap, nil
}

// lastAutoCount returns the highest commit count named by an existing
// auto-N snapshot label, or 0 if none exist. The commit count at the time
// of the last auto snapshot is read back out of the label itself rather
// than tracked separately, so the policy stays correct even if snapshots
// are created or deleted out of band.
func lastAutoCount(st *store.Store) (int, error) {
	snapshots, err := st.ListSnapshots()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, snap := range snapshots {
		if !strings.HasPrefix(snap.Label, autoLabelPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(snap.Label, autoLabelPrefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}
