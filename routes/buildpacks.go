package routes

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/nicolagi/bitsd/config"
	"github.com/nicolagi/bitsd/metrics"
	"github.com/nicolagi/bitsd/record"
	"github.com/nicolagi/bitsd/storage"
	log "github.com/sirupsen/logrus"
)

// GUIDPattern restricts the resource identifiers accepted in paths.
const GUIDPattern = "[A-Za-z0-9_-]+"

// FormField is the multipart form field holding an uploaded buildpack.
const FormField = "buildpack"

const resource = "buildpacks"

// Buildpacks serves buildpack bits. Blobs live under "buildpacks/<guid>", their
// metadata under "buildpacks-meta/<guid>".
type Buildpacks struct {
	store   storage.Store
	records *storage.VersionedWrapper
	now     func() time.Time

	// Serializes access to the same guid; striped to bound memory.
	locks [64]sync.Mutex
}

func NewBuildpacks(store storage.Store, now func() time.Time) *Buildpacks {
	if now == nil {
		now = time.Now
	}
	return &Buildpacks{
		store:   store,
		records: storage.NewVersionedWrapper(store),
		now:     now,
	}
}

// Mount registers the buildpacks routes.
func (b *Buildpacks) Mount(r *mux.Router) {
	path := "/" + resource + "/{guid:" + GUIDPattern + "}"
	r.HandleFunc(path, b.get).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc(path, b.put).Methods(http.MethodPut)
	r.HandleFunc(path, b.delete).Methods(http.MethodDelete)
}

func blobKey(guid string) string {
	return resource + "/" + guid
}

func recordKey(guid string) string {
	return resource + "-meta/" + guid
}

func (b *Buildpacks) lock(guid string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(guid))
	mu := &b.locks[h.Sum32()%uint32(len(b.locks))]
	mu.Lock()
	return mu.Unlock
}

func (b *Buildpacks) get(w http.ResponseWriter, r *http.Request) {
	guid := mux.Vars(r)["guid"]
	logger := requestLogger(r, "get").WithField("guid", guid)
	entry, bits, notModified, err := b.snapshot(guid, r.Header.Get("If-None-Match"))
	if errors.Is(err, storage.ErrNotFound) {
		logger.WithField("err", err).Debug("Not found")
		WriteError(w, http.StatusNotFound, fmt.Sprintf("Unknown buildpack: %s", guid))
		return
	}
	if err != nil {
		logger.WithField("err", err).Error("Could not load buildpack")
		metrics.StorageErrors.WithLabelValues(resource, "get").Inc()
		WriteInternalError(w, err)
		return
	}
	if notModified {
		w.Header().Set("ETag", strconv.Quote(entry.SHA1))
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(bits)))
	if entry != nil {
		w.Header().Set("ETag", strconv.Quote(entry.SHA1))
		w.Header().Set("Last-Modified", entry.CreatedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(bits); err != nil {
		logger.WithField("err", err).Error("Failed writing response")
		return
	}
	logger.Debug("Success")
}

// snapshot reads the record and the bits of a buildpack under the guid lock, so
// both come from the same upload. The record may be nil. If ifNoneMatch matches
// the record's digest, the bits are not read and notModified is true.
func (b *Buildpacks) snapshot(guid, ifNoneMatch string) (entry *record.Entry, bits []byte, notModified bool, err error) {
	unlock := b.lock(guid)
	defer unlock()
	e, _, err := b.entry(guid)
	if err == nil {
		entry = &e
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, false, fmt.Errorf("could not load record: %w", err)
	}
	if entry != nil && etagMatches(ifNoneMatch, entry.SHA1) {
		return entry, nil, true, nil
	}
	bits, err = b.store.Get(blobKey(guid))
	if err != nil {
		return nil, nil, false, fmt.Errorf("could not load bits: %w", err)
	}
	return entry, bits, false, nil
}

func (b *Buildpacks) put(w http.ResponseWriter, r *http.Request) {
	guid := mux.Vars(r)["guid"]
	logger := requestLogger(r, "put").WithField("guid", guid)
	if c := config.FromContext(r.Context()); c != nil && c.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, c.MaxBodySize)
	}
	bits, err := readBits(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Buildpack exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, errMissingField):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			logger.WithField("err", err).Warn("Could not read request body")
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("Could not read buildpack: %v", err))
		}
		return
	}
	if len(bits) == 0 {
		WriteError(w, http.StatusBadRequest, "Empty buildpack")
		return
	}
	sum1 := sha1.Sum(bits)
	sum256 := sha256.Sum256(bits)
	entry := record.Entry{
		GUID:      guid,
		SHA1:      hex.EncodeToString(sum1[:]),
		SHA256:    hex.EncodeToString(sum256[:]),
		Size:      int64(len(bits)),
		CreatedAt: b.now().UTC(),
	}
	encoded, err := record.Encode(entry)
	if err != nil {
		WriteInternalError(w, err)
		return
	}

	unlock := b.lock(guid)
	defer unlock()
	var version uint64
	if _, v, err := b.entry(guid); err == nil {
		version = v + 1
	} else if !errors.Is(err, storage.ErrNotFound) {
		logger.WithField("err", err).Error("Could not load record")
		metrics.StorageErrors.WithLabelValues(resource, "put").Inc()
		WriteInternalError(w, err)
		return
	}
	if err := b.store.Put(blobKey(guid), bits); err != nil {
		logger.WithField("err", err).Error("Could not store bits")
		metrics.StorageErrors.WithLabelValues(resource, "put").Inc()
		WriteInternalError(w, err)
		return
	}
	if err := b.records.Put(version, recordKey(guid), encoded); err != nil {
		if errors.Is(err, storage.ErrStalePut) {
			logger.WithField("version", version).Warn("Concurrent update")
			WriteError(w, http.StatusConflict, fmt.Sprintf("Concurrent update of buildpack: %s", guid))
			return
		}
		logger.WithField("err", err).Error("Could not store record")
		metrics.StorageErrors.WithLabelValues(resource, "put").Inc()
		WriteInternalError(w, err)
		return
	}
	metrics.BytesStored.WithLabelValues(resource).Add(float64(len(bits)))
	logger.WithFields(log.Fields{
		"size":    entry.Size,
		"version": version,
	}).Debug("Success")
	writeJSON(w, http.StatusCreated, entry)
}

func (b *Buildpacks) delete(w http.ResponseWriter, r *http.Request) {
	guid := mux.Vars(r)["guid"]
	logger := requestLogger(r, "delete").WithField("guid", guid)
	unlock := b.lock(guid)
	defer unlock()
	found := false
	for _, del := range []func(string) error{
		func(guid string) error { return b.records.Delete(recordKey(guid)) },
		func(guid string) error { return b.store.Delete(blobKey(guid)) },
	} {
		err := del(guid)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.WithField("err", err).Error("Could not delete")
			metrics.StorageErrors.WithLabelValues(resource, "delete").Inc()
			WriteInternalError(w, err)
			return
		}
		found = true
	}
	if !found {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("Unknown buildpack: %s", guid))
		return
	}
	logger.Debug("Success")
	w.WriteHeader(http.StatusNoContent)
}

func (b *Buildpacks) entry(guid string) (record.Entry, uint64, error) {
	version, value, err := b.records.Get(recordKey(guid))
	if err != nil {
		return record.Entry{}, 0, err
	}
	e, err := record.Decode(value)
	return e, version, err
}

var errMissingField = fmt.Errorf("missing multipart field %q", FormField)

// readBits returns the uploaded buildpack, either the raw request body or the
// FormField file of a multipart form.
func readBits(r *http.Request) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		var buf bytes.Buffer
		_, err := io.Copy(&buf, r.Body)
		return buf.Bytes(), err
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errMissingField
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != FormField {
			continue
		}
		bits, err := io.ReadAll(part)
		_ = part.Close()
		return bits, err
	}
}

func etagMatches(header, sha1 string) bool {
	if header == "" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || strings.TrimPrefix(tag, "W/") == strconv.Quote(sha1) {
			return true
		}
	}
	return false
}
