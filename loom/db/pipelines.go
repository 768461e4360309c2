package db

import (
	"database/sql"
	"fmt"

	"github.com/loomci/loom/loom/models"
	"github.com/loomci/loom/notifier"
)

type Pipeline struct {
	Id          string            `json:"id"`
	Repo        string            `json:"repo"`
	Ref         string            `json:"ref"`
	Sha         string            `json:"sha"`
	TriggerKind string            `json:"trigger_kind"`
	Group       string            `json:"group"`
	Status      models.StatusKind `json:"status"`

	// only if failed
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`

	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

func (d *DB) CreatePipeline(p Pipeline, n *notifier.Notifier) error {
	_, err := d.Exec(`
		insert into pipelines (id, repo, ref, sha, trigger_kind, grp, status)
		values (?, ?, ?, ?, ?, ?, ?)
	`, p.Id, p.Repo, p.Ref, p.Sha, p.TriggerKind, p.Group, models.StatusKindPending)

	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkPipelineRunning(id string, n *notifier.Notifier) error {
	return d.transition(id, models.StatusKindRunning, false, n)
}

func (d *DB) MarkPipelineSuccess(id string, n *notifier.Notifier) error {
	return d.transition(id, models.StatusKindSuccess, true, n)
}

func (d *DB) MarkPipelineTimeout(id string, n *notifier.Notifier) error {
	return d.transition(id, models.StatusKindTimeout, true, n)
}

func (d *DB) MarkPipelineCancelled(id string, n *notifier.Notifier) error {
	return d.transition(id, models.StatusKindCancelled, true, n)
}

func (d *DB) MarkPipelineFailed(id string, exitCode int, errorMsg string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update pipelines
		set status = ?,
		    exit_code = ?,
		    error = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusKindFailed, exitCode, errorMsg, id)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) transition(id string, status models.StatusKind, finished bool, n *notifier.Notifier) error {
	finishedClause := ""
	if finished {
		finishedClause = ", finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')"
	}

	_, err := d.Exec(fmt.Sprintf(`
		update pipelines
		set status = ?, updated_at = strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now')%s
		where id = ?
	`, finishedClause), status, id)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) GetPipeline(id string) (Pipeline, error) {
	var p Pipeline
	var finishedAt sql.NullString
	err := d.QueryRow(`
		select id, repo, ref, sha, trigger_kind, grp, status, error, exit_code, created_at, updated_at, finished_at
		from pipelines
		where id = ?
	`, id).Scan(&p.Id, &p.Repo, &p.Ref, &p.Sha, &p.TriggerKind, &p.Group, &p.Status, &p.Error, &p.ExitCode, &p.CreatedAt, &p.UpdatedAt, &finishedAt)
	if err != nil {
		return p, err
	}
	p.FinishedAt = finishedAt.String
	return p, nil
}

func (d *DB) GetPipelines(limit int) ([]Pipeline, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.Query(`
		select id, repo, ref, sha, trigger_kind, grp, status, error, exit_code, created_at, updated_at, finished_at
		from pipelines
		order by created_at desc
		limit ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []Pipeline
	for rows.Next() {
		var p Pipeline
		var finishedAt sql.NullString
		if err := rows.Scan(&p.Id, &p.Repo, &p.Ref, &p.Sha, &p.TriggerKind, &p.Group, &p.Status, &p.Error, &p.ExitCode, &p.CreatedAt, &p.UpdatedAt, &finishedAt); err != nil {
			return nil, err
		}
		p.FinishedAt = finishedAt.String
		pipelines = append(pipelines, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pipelines, nil
}
