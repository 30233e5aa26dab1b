package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"ditto-api/domain"
)

const (
	templateRowPrefix = "tpl:"
	todoRowPrefix     = "todo:"
	markerRowPrefix   = "mark:"
)

// Remote is the realtime backend: one Azure table holds both collections
// under the owner's partition, and a Redis channel carries change signals to
// every subscribed session. A mutation batch is one table transaction, so
// it applies all-or-nothing, and a guarded batch adds its marker row in the
// same transaction — the check-then-create is atomic server-side.
type Remote struct {
	table   *aztables.Client
	redis   *redis.Client
	owner   string
	channel string
}

// NewRemote connects to the table behind connStr, creating it on first run.
func NewRemote(ctx context.Context, connStr, tableName, owner string, rc *redis.Client, channel string) (*Remote, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	client := svc.NewClient(tableName)
	if _, err := client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return nil, err
		}
	}
	return &Remote{table: client, redis: rc, owner: owner, channel: channel}, nil
}

type templateEntity struct {
	aztables.Entity
	Label     string  `json:"Label"`
	StartDate string  `json:"StartDate"`
	Order     float64 `json:"Order"`
	CreatedAt int64   `json:"CreatedAt"`
}

type todoEntity struct {
	aztables.Entity
	MasterID       string  `json:"MasterId"`
	Label          string  `json:"Label"`
	Done           bool    `json:"Done"`
	CreatedAt      int64   `json:"CreatedAt"`
	CreatedForDate string  `json:"CreatedForDate"`
	Order          float64 `json:"Order"`
}

func (r *Remote) Snapshot(ctx context.Context) (Snapshot, error) {
	filter := "PartitionKey eq '" + r.owner + "'"
	pager := r.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	snap := Snapshot{Templates: []domain.Template{}, Instances: []domain.Instance{}}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return Snapshot{}, BackendUnavailableError{Backend: "remote", Err: err}
		}
		for _, raw := range resp.Entities {
			var probe aztables.Entity
			if err := json.Unmarshal(raw, &probe); err != nil {
				return Snapshot{}, BackendUnavailableError{Backend: "remote", Err: err}
			}
			switch {
			case strings.HasPrefix(probe.RowKey, templateRowPrefix):
				var ent templateEntity
				if err := json.Unmarshal(raw, &ent); err != nil {
					return Snapshot{}, BackendUnavailableError{Backend: "remote", Err: err}
				}
				snap.Templates = append(snap.Templates, domain.Template{
					ID:        strings.TrimPrefix(ent.RowKey, templateRowPrefix),
					Label:     ent.Label,
					StartDate: domain.Day(ent.StartDate),
					Order:     ent.Order,
					CreatedAt: ent.CreatedAt,
				})
			case strings.HasPrefix(probe.RowKey, todoRowPrefix):
				var ent todoEntity
				if err := json.Unmarshal(raw, &ent); err != nil {
					return Snapshot{}, BackendUnavailableError{Backend: "remote", Err: err}
				}
				snap.Instances = append(snap.Instances, domain.Instance{
					ID:             strings.TrimPrefix(ent.RowKey, todoRowPrefix),
					MasterID:       ent.MasterID,
					Label:          ent.Label,
					Done:           ent.Done,
					CreatedAt:      ent.CreatedAt,
					CreatedForDate: domain.Day(ent.CreatedForDate),
					Order:          ent.Order,
				})
			}
			// Marker rows stay internal to the backend.
		}
	}
	return snap, nil
}

func (r *Remote) Apply(ctx context.Context, batch domain.Batch) error {
	if batch.Empty() {
		return nil
	}
	actions, err := r.transactionActions(batch)
	if err != nil {
		return err
	}
	if _, err := r.table.SubmitTransaction(ctx, actions, nil); err != nil {
		var respErr *azcore.ResponseError
		if batch.Guard != "" && errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.EntityAlreadyExists) {
			return ErrAlreadyApplied
		}
		return BackendUnavailableError{Backend: "remote", Err: err}
	}
	r.publish(ctx)
	return nil
}

func (r *Remote) transactionActions(batch domain.Batch) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(batch.Muts)+1)
	if batch.Guard != "" {
		marker, err := json.Marshal(aztables.Entity{PartitionKey: r.owner, RowKey: markerRowPrefix + batch.Guard})
		if err != nil {
			return nil, BackendUnavailableError{Backend: "remote", Err: err}
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: marker})
	}
	for _, m := range batch.Muts {
		rowKey, payload, err := encodeMutation(r.owner, m)
		if err != nil {
			return nil, err
		}
		switch m.Op {
		case domain.Upsert:
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: payload})
		case domain.Delete:
			keys, err := json.Marshal(aztables.Entity{PartitionKey: r.owner, RowKey: rowKey})
			if err != nil {
				return nil, BackendUnavailableError{Backend: "remote", Err: err}
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: keys})
		}
	}
	return actions, nil
}

func encodeMutation(owner string, m domain.Mutation) (string, []byte, error) {
	switch m.Collection {
	case domain.Templates:
		rowKey := templateRowPrefix + m.ID
		if m.Op == domain.Delete {
			return rowKey, nil, nil
		}
		t := m.Template
		payload, err := json.Marshal(templateEntity{
			Entity:    aztables.Entity{PartitionKey: owner, RowKey: rowKey},
			Label:     t.Label,
			StartDate: string(t.StartDate),
			Order:     t.Order,
			CreatedAt: t.CreatedAt,
		})
		if err != nil {
			return "", nil, BackendUnavailableError{Backend: "remote", Err: err}
		}
		return rowKey, payload, nil
	case domain.Todos:
		rowKey := todoRowPrefix + m.ID
		if m.Op == domain.Delete {
			return rowKey, nil, nil
		}
		in := m.Instance
		payload, err := json.Marshal(todoEntity{
			Entity:         aztables.Entity{PartitionKey: owner, RowKey: rowKey},
			MasterID:       in.MasterID,
			Label:          in.Label,
			Done:           in.Done,
			CreatedAt:      in.CreatedAt,
			CreatedForDate: string(in.CreatedForDate),
			Order:          in.Order,
		})
		if err != nil {
			return "", nil, BackendUnavailableError{Backend: "remote", Err: err}
		}
		return rowKey, payload, nil
	}
	return "", nil, BackendUnavailableError{Backend: "remote", Err: errors.New("unknown collection " + string(m.Collection))}
}

// publish pushes a change signal so other sessions re-read their snapshot.
// Publish failures are logged and swallowed: the write itself succeeded.
func (r *Remote) publish(ctx context.Context) {
	if r.redis == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"owner": r.owner})
	if err := r.redis.Publish(ctx, r.channel, payload).Err(); err != nil {
		log.Errorf("unable to publish change signal to %s: %v", r.channel, err)
	}
}

func (r *Remote) Subscribe() (<-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan struct{}, 1)
	if r.redis == nil {
		cancel()
		close(out)
		return out, func() {}
	}
	sub := r.redis.Subscribe(ctx, r.channel)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, func() {
		cancel()
		_ = sub.Close()
	}
}
