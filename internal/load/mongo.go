package load

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JonMunkholm/flatetl/internal/etlerr"
	"github.com/JonMunkholm/flatetl/internal/logging"
	"github.com/JonMunkholm/flatetl/internal/tabular"
)

// MongoWriter writes each destination to a collection. MongoDB offers no
// transactions on standalone servers, so each InsertMany chunk is the unit
// of commit.
type MongoWriter struct {
	client *mongo.Client
	db     *mongo.Database
	locks  destLocks
}

// mongoURI builds a connection string. A host that is already a
// mongodb:// or mongodb+srv:// URI is used as is.
func mongoURI(cfg Config) string {
	if strings.HasPrefix(cfg.Host, "mongodb://") || strings.HasPrefix(cfg.Host, "mongodb+srv://") {
		return cfg.Host
	}
	u := url.URL{Scheme: "mongodb", Host: cfg.hostPort(27017)}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

func openMongo(ctx context.Context, cfg Config) (*MongoWriter, error) {
	clientOpts := options.Client().ApplyURI(mongoURI(cfg))
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	if cfg.MaxConns > 0 {
		clientOpts.SetMaxPoolSize(uint64(cfg.MaxConns))
	}

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.ConnectionError, err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, etlerr.Wrap(etlerr.ConnectionError, err, "ping mongo")
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = "etl_db"
	}
	return &MongoWriter{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the client.
func (w *MongoWriter) Close() error {
	return w.client.Disconnect(context.Background())
}

// Write implements Writer.
func (w *MongoWriter) Write(ctx context.Context, t *tabular.Table, dest string, opts Options) (int, error) {
	if err := checkWrite(t, dest, opts); err != nil {
		return 0, err
	}
	if t.NumRows() == 0 {
		return 0, nil
	}

	unlock := w.locks.lock(dest)
	defer unlock()

	logger := logging.WithFields(ctx, "destination", dest, "policy", opts.IfExists, "driver", DriverMongoDB)
	coll := w.db.Collection(dest)

	names, err := w.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: dest}})
	if err != nil {
		return 0, wrapError(ctx, err, classifyMongo, "list collections")
	}
	exists := len(names) > 0

	switch opts.IfExists {
	case PolicyFail:
		if exists {
			return 0, etlerr.New(etlerr.AlreadyExists, "collection %q already exists", dest)
		}
	case PolicyReplace:
		logger.Info("replacing collection")
		if err := coll.Drop(ctx); err != nil {
			return 0, wrapError(ctx, err, classifyMongo, "drop collection %s", dest)
		}
	case PolicyAppend:
		if exists {
			keys, err := sampleKeys(ctx, coll)
			if err != nil {
				return 0, wrapError(ctx, err, classifyMongo, "inspect collection %s", dest)
			}
			logger.Info("appending to existing collection", "columns", len(keys), "existing_columns", strings.Join(keys, ","))
		}
	}

	cols := t.Names()
	written := 0
	for _, b := range chunkBounds(t.NumRows(), opts.ChunkSize) {
		docs := make([]bson.D, 0, b[1]-b[0])
		for r := b[0]; r < b[1]; r++ {
			doc := make(bson.D, len(cols))
			for j, v := range t.Row(r) {
				doc[j] = bson.E{Key: cols[j], Value: v}
			}
			docs = append(docs, doc)
		}

		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			if res != nil {
				written += len(res.InsertedIDs)
			}
			return written, wrapError(ctx, err, classifyMongo, "insert rows %d-%d into %s", b[0], b[1], dest)
		}
		written += len(res.InsertedIDs)
	}
	return written, nil
}

// sampleKeys returns the field names of one document, without _id.
func sampleKeys(ctx context.Context, coll *mongo.Collection) ([]string, error) {
	raw, err := coll.FindOne(ctx, bson.D{}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("decode sample document: %w", err)
	}
	keys := make([]string, 0, len(elems))
	for _, e := range elems {
		if k := e.Key(); k != "_id" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// classifyMongo treats network failures, timeouts and authentication
// failures (codes 13 and 18) as connection errors.
func classifyMongo(err error) etlerr.Kind {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return etlerr.ConnectionError
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == 13 || cmdErr.Code == 18) {
		return etlerr.ConnectionError
	}
	if isNetworkError(err) {
		return etlerr.ConnectionError
	}
	return etlerr.WriteError
}
