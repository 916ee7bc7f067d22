// Package cosmos implements the real store.Backend (C3) against Azure
// Cosmos DB's SQL API: idempotent database/container/script bootstrap, the
// Phase-1 optimistic insert and Phase-2 conflict-arbitration script calls,
// and the error-kind mapping spec.md §7 requires.
package cosmos

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/azsession/cosmosstate/internal/store"
)

// defaultContainerTTLSeconds is the container-wide safety-net TTL (spec.md
// §4.2): per-document ttl always overrides it.
const defaultContainerTTLSeconds = int32(300)

// tryLockScriptBody is the conflict-arbitration stored procedure (spec.md
// §4.3): check for an existing lock document, return its credential when
// present, otherwise create it and return the new one — atomically, as a
// single serializable transaction within the partition.
const tryLockScriptBody = `function tryLock(lockId, nowIso, ttlSeconds) {
    var context = getContext();
    var collection = context.getCollection();
    var response = context.getResponse();

    var filter = {
        query: "SELECT * FROM r WHERE r.id = @id",
        parameters: [{ name: "@id", value: lockId }]
    };

    var isAccepted = collection.queryDocuments(collection.getSelfLink(), filter, {}, function (err, docs) {
        if (err) throw err;
        if (docs.length > 0) {
            response.setBody({
                locked: false,
                etag: docs[0]._etag,
                createdDate: docs[0].CreatedDate
            });
            return;
        }
        var doc = { id: lockId, ttl: ttlSeconds, CreatedDate: nowIso };
        var created = collection.createDocument(collection.getSelfLink(), doc, {}, function (createErr, newDoc) {
            if (createErr) throw createErr;
            response.setBody({
                locked: true,
                etag: newDoc._etag,
                createdDate: newDoc.CreatedDate
            });
        });
        if (!created) throw new Error("tryLock: createDocument did not accept");
    });
    if (!isAccepted) throw new Error("tryLock: queryDocuments did not accept");
}`

// Config controls connectivity to a Cosmos DB SQL API account.
type Config struct {
	Endpoint   string
	AccountKey string
	// ConnectionString, when set, overrides Endpoint/AccountKey. Format:
	// "AccountEndpoint=https://...;AccountKey=...;" — the layout Cosmos
	// portals hand out verbatim.
	ConnectionString string
	DatabaseID       string
	ContainerID      string
	// LockTTLSeconds sets the client's per-try request timeout and maximum
	// retry delay to half the lock TTL (spec.md §4.2, §5), so a hung request
	// can never outlive the lock it protects; zero means 30. Lock records
	// themselves carry the ttl passed to CreateLockIfAbsent/TryLock.
	LockTTLSeconds int
}

func (c Config) lockTTL() time.Duration {
	ttl := c.LockTTLSeconds
	if ttl <= 0 {
		ttl = 30
	}
	return time.Duration(ttl) * time.Second
}

// Store implements store.Backend backed by Azure Cosmos DB.
type Store struct {
	client      *azcosmos.Client
	database    *azcosmos.DatabaseClient
	container   *azcosmos.ContainerClient
	databaseID  string
	containerID string
	scriptID    string
	lockTTL     time.Duration
}

func parseConnectionString(cs string) (endpoint, key string, err error) {
	for _, part := range strings.Split(cs, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "accountendpoint":
			endpoint = kv[1]
		case "accountkey":
			key = kv[1]
		}
	}
	if endpoint == "" || key == "" {
		return "", "", fmt.Errorf("cosmos: connection string missing AccountEndpoint or AccountKey")
	}
	return endpoint, key, nil
}

func scriptID(body string) string {
	sum := sha1.Sum([]byte(body))
	return "tryLock_" + hex.EncodeToString(sum[:])[:20]
}

// New constructs a Store using the provided configuration. It does not
// bootstrap the database/container/script; call Bootstrap for that.
func New(cfg Config) (*Store, error) {
	endpoint, key := cfg.Endpoint, cfg.AccountKey
	if cfg.ConnectionString != "" {
		var err error
		endpoint, key, err = parseConnectionString(cfg.ConnectionString)
		if err != nil {
			return nil, err
		}
	}
	if endpoint == "" {
		return nil, fmt.Errorf("cosmos: endpoint is required")
	}
	if key == "" {
		return nil, fmt.Errorf("cosmos: account key is required")
	}
	if cfg.DatabaseID == "" {
		return nil, fmt.Errorf("cosmos: databaseId is required")
	}
	if cfg.ContainerID == "" {
		return nil, fmt.Errorf("cosmos: containerId is required")
	}

	cred, err := azcosmos.NewKeyCredential(key)
	if err != nil {
		return nil, fmt.Errorf("cosmos: build credential: %w", err)
	}

	lockTTL := cfg.lockTTL()
	halfTTL := lockTTL / 2

	clientOpts := &azcosmos.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: azcore.RetryOptions{
				TryTimeout:    halfTTL,
				MaxRetryDelay: halfTTL,
			},
		},
	}
	client, err := azcosmos.NewClientWithKey(endpoint, cred, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("cosmos: create client: %w", err)
	}

	database, err := client.NewDatabase(cfg.DatabaseID)
	if err != nil {
		return nil, fmt.Errorf("cosmos: resolve database client: %w", err)
	}
	container, err := database.NewContainer(cfg.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("cosmos: resolve container client: %w", err)
	}

	return &Store{
		client:      client,
		database:    database,
		container:   container,
		databaseID:  cfg.DatabaseID,
		containerID: cfg.ContainerID,
		scriptID:    scriptID(tryLockScriptBody),
		lockTTL:     lockTTL,
	}, nil
}

// LockTTL returns the lock TTL this Store was configured with (spec.md §6
// xLockTtlSeconds, defaulted). Diagnostic tooling reports it; the lock
// protocol itself passes its own TTL on every call rather than reading it
// back from the backend.
func (s *Store) LockTTL() time.Duration { return s.lockTTL }

// Bootstrap idempotently provisions the database, container, indexing
// policy, default TTL, and the tryLock stored script (spec.md §4.2).
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.client.CreateDatabase(ctx, azcosmos.DatabaseProperties{ID: s.databaseID}, nil)
	if err != nil && !isConflict(err) {
		return fmt.Errorf("cosmos: create database: %w", err)
	}

	ttl := defaultContainerTTLSeconds
	props := azcosmos.ContainerProperties{
		ID: s.containerID,
		PartitionKeyDefinition: azcosmos.PartitionKeyDefinition{
			Paths: []string{"/id"},
		},
		DefaultTimeToLive: &ttl,
		IndexingPolicy: &azcosmos.IndexingPolicy{
			Automatic:     true,
			IndexingMode:  azcosmos.IndexingModeConsistent,
			ExcludedPaths: []azcosmos.ExcludedPath{{Path: "/*"}},
		},
	}
	_, err = s.database.CreateContainer(ctx, props, nil)
	if err != nil && !isConflict(err) {
		return fmt.Errorf("cosmos: create container: %w", err)
	}

	scripts := s.container.NewScripts()
	_, err = scripts.CreateStoredProcedure(ctx, azcosmos.StoredProcedureProperties{
		ID:   s.scriptID,
		Body: tryLockScriptBody,
	}, nil)
	if err != nil && !isConflict(err) {
		return fmt.Errorf("cosmos: create tryLock script: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func itemOptionsForLevel(level store.ConsistencyLevel) *azcosmos.ItemOptions {
	opts := &azcosmos.ItemOptions{EnableContentResponseOnWrite: false}
	if level == store.ConsistencyEventual {
		opts.ConsistencyLevel = to.Ptr(azcosmos.ConsistencyLevelEventual)
	}
	return opts
}

func (s *Store) ReadContent(ctx context.Context, id string, level store.ConsistencyLevel) (*store.ContentRecord, error) {
	pk := azcosmos.NewPartitionKeyString(id)
	resp, err := s.container.ReadItem(ctx, pk, id, itemOptionsForLevel(level))
	if err != nil {
		return nil, mapError("ReadContent", err)
	}
	var doc contentDocument
	if err := unmarshalItem(resp.Value, &doc); err != nil {
		return nil, fmt.Errorf("cosmos: decode content %s: %w", id, err)
	}
	rec := doc.toRecord()
	rec.ETag = store.ETag(resp.ETag)
	return &rec, nil
}

func (s *Store) UpsertContent(ctx context.Context, rec *store.ContentRecord) (store.ETag, error) {
	doc := contentDocumentFrom(rec)
	body, err := marshalItem(doc)
	if err != nil {
		return "", fmt.Errorf("cosmos: encode content %s: %w", rec.ID, err)
	}
	pk := azcosmos.NewPartitionKeyString(rec.ID)
	resp, err := s.container.UpsertItem(ctx, pk, body, &azcosmos.ItemOptions{EnableContentResponseOnWrite: false})
	if err != nil {
		return "", mapError("UpsertContent", err)
	}
	return store.ETag(resp.ETag), nil
}

func (s *Store) ReplaceContentIfMatch(ctx context.Context, rec *store.ContentRecord, expected store.ETag, level store.ConsistencyLevel) (store.ETag, error) {
	doc := contentDocumentFrom(rec)
	body, err := marshalItem(doc)
	if err != nil {
		return "", fmt.Errorf("cosmos: encode content %s: %w", rec.ID, err)
	}
	pk := azcosmos.NewPartitionKeyString(rec.ID)
	opts := itemOptionsForLevel(level)
	opts.IfMatchEtag = to.Ptr(azcore.ETag(expected))
	resp, err := s.container.ReplaceItem(ctx, pk, rec.ID, body, opts)
	if err != nil {
		return "", mapError("ReplaceContentIfMatch", err)
	}
	return store.ETag(resp.ETag), nil
}

func (s *Store) DeleteContent(ctx context.Context, id string) error {
	pk := azcosmos.NewPartitionKeyString(id)
	_, err := s.container.DeleteItem(ctx, pk, id, nil)
	if err != nil {
		return mapError("DeleteContent", err)
	}
	return nil
}

func (s *Store) CreateLockIfAbsent(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (*store.LockRecord, error) {
	id := store.LockID(sessionID)
	doc := lockDocument{ID: id, TTL: int64(ttl / time.Second), CreatedDate: now.UTC()}
	body, err := marshalItem(doc)
	if err != nil {
		return nil, fmt.Errorf("cosmos: encode lock %s: %w", id, err)
	}
	pk := azcosmos.NewPartitionKeyString(id)
	resp, err := s.container.CreateItem(ctx, pk, body, &azcosmos.ItemOptions{EnableContentResponseOnWrite: false})
	if err != nil {
		return nil, mapError("CreateLockIfAbsent", err)
	}
	return &store.LockRecord{
		ID:          id,
		TTLSeconds:  doc.TTL,
		ETag:        store.ETag(resp.ETag),
		CreatedDate: doc.CreatedDate,
	}, nil
}

// scriptResult mirrors the JSON object tryLockScriptBody returns.
type scriptResult struct {
	Locked      bool   `json:"locked"`
	ETag        string `json:"etag"`
	CreatedDate string `json:"createdDate"`
}

func (s *Store) TryLock(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (bool, *store.LockRecord, error) {
	id := store.LockID(sessionID)
	pk := azcosmos.NewPartitionKeyString(id)
	params := []any{id, now.UTC().Format(time.RFC3339Nano), int64(ttl / time.Second)}
	resp, err := s.container.NewScripts().ExecuteStoredProcedure(ctx, pk, s.scriptID, params, nil)
	if err != nil {
		return false, nil, mapError("TryLock", err)
	}
	var result scriptResult
	if err := unmarshalItem(resp.Value, &result); err != nil {
		return false, nil, fmt.Errorf("cosmos: decode tryLock result for %s: %w", id, err)
	}
	createdDate, err := time.Parse(time.RFC3339Nano, result.CreatedDate)
	if err != nil {
		createdDate = now
	}
	rec := &store.LockRecord{
		ID:          id,
		TTLSeconds:  int64(ttl / time.Second),
		ETag:        store.ETag(result.ETag),
		CreatedDate: createdDate,
	}
	return result.Locked, rec, nil
}

func (s *Store) DeleteLockIfMatch(ctx context.Context, sessionID string, expected store.ETag) error {
	id := store.LockID(sessionID)
	pk := azcosmos.NewPartitionKeyString(id)
	var opts *azcosmos.ItemOptions
	if expected != "" {
		opts = &azcosmos.ItemOptions{IfMatchEtag: to.Ptr(azcore.ETag(expected))}
	}
	_, err := s.container.DeleteItem(ctx, pk, id, opts)
	if err != nil {
		return mapError("DeleteLockIfMatch", err)
	}
	return nil
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict
	}
	return false
}

func subStatus(respErr *azcore.ResponseError) int {
	if respErr.RawResponse == nil {
		return 0
	}
	v := respErr.RawResponse.Header.Get("x-ms-substatus")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// mapError classifies a Cosmos SDK error into the store package's error
// kinds (spec.md §7), preserving status/substatus in a *store.Fault for
// everything that falls outside the known kinds.
func mapError(op string, err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return store.NewTransientError(fmt.Errorf("cosmos: %s: %w", op, err))
	}
	sub := subStatus(respErr)
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusConflict:
		return store.ErrConflict
	case http.StatusPreconditionFailed:
		return store.ErrCASMismatch
	case http.StatusTooManyRequests:
		return store.NewTransientError(&store.Fault{Op: op, HTTPStatus: respErr.StatusCode, SubStatus: sub, Detail: "rate limited", Err: err})
	}
	if store.IsPhase2Retryable(respErr.StatusCode, sub) {
		return store.NewTransientError(&store.Fault{Op: op, HTTPStatus: respErr.StatusCode, SubStatus: sub, Detail: "conflicting request", Err: err})
	}
	return &store.Fault{Op: op, HTTPStatus: respErr.StatusCode, SubStatus: sub, Err: err}
}
