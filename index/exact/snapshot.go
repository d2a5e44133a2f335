package exact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/embedspace/blobstore"
	"github.com/hupe1980/embedspace/codec"
)

// Snapshot layout: a fixed header followed by compressed blocks holding a
// codec-encoded snapshotPayload.
//
//	[4]byte magic "ESX1"
//	byte    format version
//	byte    compression type
//	byte    codec name length
//	[]byte  codec name
//	blocks  (see compression.go)
const (
	snapshotMagic   = "ESX1"
	snapshotVersion = 1
	snapshotSuffix  = ".esx"
)

type snapshotPayload struct {
	Dim     int       `msgpack:"dim"`
	UUIDs   []string  `msgpack:"uuids"`
	Vectors []float32 `msgpack:"vectors"`
	Live    []byte    `msgpack:"live"`
}

// snapshotName maps a namespace to its blob name. Namespaces are
// path-escaped so arbitrary namespace strings stay single-segment names.
func snapshotName(namespace string) string {
	return url.PathEscape(namespace) + snapshotSuffix
}

func snapshotNamespace(name string) (string, error) {
	return url.PathUnescape(strings.TrimSuffix(name, snapshotSuffix))
}

func saveSnapshot(ctx context.Context, store blobstore.BlobStore, namespace string, ni *namespaceIndex, opts Options) error {
	liveBytes, err := ni.live.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal live bitmap: %w", err)
	}

	data, err := codec.Default.Marshal(snapshotPayload{
		Dim:     ni.dim,
		UUIDs:   ni.uuids,
		Vectors: ni.vecs,
		Live:    liveBytes,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	codecName := codec.Default.Name()

	header := make([]byte, 0, len(snapshotMagic)+3+len(codecName))
	header = append(header, snapshotMagic...)
	header = append(header, snapshotVersion, byte(opts.Compression), byte(len(codecName)))
	header = append(header, codecName...)

	w, err := store.Create(ctx, snapshotName(namespace))
	if err != nil {
		return err
	}

	if _, err := w.Write(header); err != nil {
		_ = w.Abort()
		return err
	}

	bw := newBlockWriter(w, opts.Compression, opts.BlockSize)
	if _, err := bw.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = w.Abort()
		return err
	}

	return w.Close()
}

// loadSnapshots reads every snapshot blob in the store, keyed by namespace.
func loadSnapshots(ctx context.Context, store blobstore.BlobStore) (map[string]*namespaceIndex, error) {
	names, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("exact: list snapshots: %w", err)
	}

	loaded := make(map[string]*namespaceIndex)

	for _, name := range names {
		if !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}

		namespace, err := snapshotNamespace(name)
		if err != nil {
			return nil, fmt.Errorf("exact: bad snapshot name %q: %w", name, err)
		}

		ni, err := loadSnapshot(ctx, store, name)
		if err != nil {
			return nil, fmt.Errorf("exact: load snapshot %q: %w", name, err)
		}

		loaded[namespace] = ni
	}

	return loaded, nil
}

func loadSnapshot(ctx context.Context, store blobstore.BlobStore, name string) (*namespaceIndex, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, err
	}

	if len(data) < len(snapshotMagic)+3 {
		return nil, errors.New("snapshot too short")
	}

	if string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, errors.New("bad snapshot magic")
	}

	if v := data[4]; v != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}

	compressionType := CompressionType(data[5])
	nameLen := int(data[6])

	headerLen := len(snapshotMagic) + 3 + nameLen
	if len(data) < headerLen {
		return nil, errors.New("snapshot header truncated")
	}

	codecName := string(data[len(snapshotMagic)+3 : headerLen])

	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("unknown snapshot codec %q", codecName)
	}

	raw, err := decompressAll(data, int64(headerLen), compressionType)
	if err != nil {
		return nil, err
	}

	var payload snapshotPayload
	if err := c.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	if payload.Dim > 0 && len(payload.Vectors) != len(payload.UUIDs)*payload.Dim {
		return nil, errors.New("snapshot vector buffer size mismatch")
	}

	live := roaring.New()
	if len(payload.Live) > 0 {
		if err := live.UnmarshalBinary(payload.Live); err != nil {
			return nil, fmt.Errorf("unmarshal live bitmap: %w", err)
		}
	}

	ids := make(map[string]uint32, len(payload.UUIDs))
	for i, uuid := range payload.UUIDs {
		ids[uuid] = uint32(i)
	}

	return &namespaceIndex{
		dim:   payload.Dim,
		uuids: payload.UUIDs,
		ids:   ids,
		vecs:  payload.Vectors,
		live:  live,
	}, nil
}
