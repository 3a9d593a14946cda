package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"bashbook/domain"
)

// TableStore keeps one entity per guest in an Azure table. The list name is
// the partition key and Position preserves insertion order.
type TableStore struct {
	table *aztables.Client
	list  string
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tableName, list string) (*TableStore, error) {
	svc, err := newTableService(connStr)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(tableName), list: list}, nil
}

func newTableService(connStr string) (*aztables.ServiceClient, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &opts)
}

// EnsureTable creates the table, treating an existing one as success.
func (s *TableStore) EnsureTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

type guestEntity struct {
	aztables.Entity
	Text      string `json:"Text"`
	Completed bool   `json:"Completed"`
	Position  int    `json:"Position"`
}

func (s *TableStore) Load(ctx context.Context) ([]domain.Guest, error) {
	entities, err := s.fetchEntities(ctx)
	if err != nil {
		return nil, err
	}
	return guestsFromEntities(entities), nil
}

// Replace upserts every guest and deletes entities no longer present.
func (s *TableStore) Replace(ctx context.Context, guests []domain.Guest) error {
	existing, err := s.fetchEntities(ctx)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(guests))
	for i, g := range guests {
		keep[g.ID] = struct{}{}
		payload, err := json.Marshal(entityFromGuest(s.list, i, g))
		if err != nil {
			return err
		}
		if _, err := s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
			return fmt.Errorf("upsert guest %s: %w", g.ID, err)
		}
	}
	for _, ent := range existing {
		if _, ok := keep[ent.RowKey]; ok {
			continue
		}
		if err := s.deleteEntity(ctx, ent.RowKey); err != nil {
			return err
		}
	}
	return nil
}

func (s *TableStore) Delete(ctx context.Context, id string) (int, error) {
	existing, err := s.fetchEntities(ctx)
	if err != nil {
		return 0, err
	}
	found := false
	for _, ent := range existing {
		if ent.RowKey == id {
			found = true
			break
		}
	}
	if !found {
		return len(existing), nil
	}
	if err := s.deleteEntity(ctx, id); err != nil {
		return 0, err
	}
	return len(existing) - 1, nil
}

func (s *TableStore) deleteEntity(ctx context.Context, id string) error {
	_, err := s.table.DeleteEntity(ctx, s.list, id, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil
		}
		return fmt.Errorf("delete guest %s: %w", id, err)
	}
	return nil
}

func (s *TableStore) fetchEntities(ctx context.Context) ([]guestEntity, error) {
	filter := partitionFilter(s.list)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	entities := []guestEntity{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent guestEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, fmt.Errorf("%w: decode entity: %w", ErrUnreadable, err)
			}
			entities = append(entities, ent)
		}
	}
	return entities, nil
}

func partitionFilter(list string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(list, "'", "''") + "'"
}

func entityFromGuest(list string, position int, g domain.Guest) guestEntity {
	return guestEntity{
		Entity:    aztables.Entity{PartitionKey: list, RowKey: g.ID},
		Text:      g.Text,
		Completed: g.Completed,
		Position:  position,
	}
}

func guestsFromEntities(entities []guestEntity) []domain.Guest {
	sorted := make([]guestEntity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	guests := make([]domain.Guest, 0, len(sorted))
	for _, ent := range sorted {
		guests = append(guests, domain.Guest{ID: ent.RowKey, Text: ent.Text, Completed: ent.Completed})
	}
	return guests
}
