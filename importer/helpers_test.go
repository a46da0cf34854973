package importer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/blob"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/crypto"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/lineage"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

const testSalt = "unit-test-salt"

func testDatasets() []types.DataSetDefinition {
	return []types.DataSetDefinition{
		{
			Name:               "cts_cph_holdings",
			FilePrefixFormat:   "cts_cph_holdings",
			PrimaryKeyColumns:  []string{types.FieldLidFullIdentifier},
			ChangeTypeColumn:   types.FieldChangeType,
			AccumulatorColumns: []string{types.FieldCph, types.FieldEmailAddress, types.FieldPhoneNumber},
		},
		{
			Name:               "sam_cph_holdings",
			FilePrefixFormat:   "sam_cph_holdings",
			PrimaryKeyColumns:  []string{types.FieldCph},
			ChangeTypeColumn:   types.FieldChangeType,
			AccumulatorColumns: []string{types.FieldEmailAddress, types.FieldPhoneNumber, types.FieldAnimalSpeciesCode},
		},
	}
}

// harness wires the full import stack over in-memory backends.
type harness struct {
	store    *docstore.Store
	reporter *Reporter
	registry *Registry
	upserter *Upserter
	events   *lineage.Reader
	external *blob.MemoryStore
	internal *blob.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := docstore.NewStoreWithClient(client, time.Second)
	return &harness{
		store:    store,
		reporter: NewReporter(store),
		registry: NewRegistry(testDatasets()),
		upserter: NewUpserter(store, lineage.NewWriterWithClient(client, time.Second)),
		events:   lineage.NewReaderWithClient(client, time.Second),
		external: blob.NewMemoryStore(""),
		internal: blob.NewMemoryStore(""),
	}
}

// testRetry keeps transient-retry backoff negligible in tests.
var testRetry = blob.RetryPolicy{Attempts: 3, Base: time.Millisecond}

func (h *harness) acquisition(forceCopy bool) *Acquisition {
	return NewAcquisition(h.external, h.internal, h.registry, h.reporter, testSalt, forceCopy, testRetry)
}

func (h *harness) ingestion(workers int) *Ingestion {
	return NewIngestion(h.internal, h.reporter, h.registry, h.upserter, testSalt, workers, testRetry)
}

// encryptContent encrypts content with the password the filename derives.
func encryptContent(t *testing.T, filename, content string) []byte {
	t.Helper()
	password := crypto.PasswordFromFilename(filename)
	var buf bytes.Buffer
	if err := crypto.EncryptStream(strings.NewReader(content), &buf, password, testSalt, int64(len(content)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func ctsRows(lines ...string) string {
	header := strings.Join([]string{
		types.FieldLidFullIdentifier,
		types.FieldChangeType,
		types.FieldCph,
		types.FieldEmailAddress,
		types.FieldPhoneNumber,
	}, fieldSeparator)
	return header + "\n" + strings.Join(lines, "\n") + "\n"
}
