package urnhistory

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"cagekeeper/dss"
)

type blockRange struct {
	from, to uint64
}

// fakeFilterer serves canned logs and records every requested block range. It
// applies the query's positional topic filters the way a real node does, so a
// filter aimed at the wrong topic slot matches nothing.
type fakeFilterer struct {
	head    uint64
	logs    []gethtypes.Log
	queries []blockRange
}

func (f *fakeFilterer) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	f.queries = append(f.queries, blockRange{from: from, to: to})

	var matched []gethtypes.Log
	for _, entry := range f.logs {
		if entry.BlockNumber >= from && entry.BlockNumber <= to && matchTopics(q.Topics, entry.Topics) {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		hit := false
		for _, alt := range alternatives {
			if topics[i] == alt {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// fakeUrnReader returns a synthetic position for any owner and records reads.
type fakeUrnReader struct {
	reads int
}

func (r *fakeUrnReader) Urn(ctx context.Context, ilk string, owner common.Address) (dss.Urn, error) {
	r.reads++
	return dss.Urn{
		Ilk:     ilk,
		Address: owner,
		Ink:     dss.NewWad(big.NewInt(1)),
		Art:     dss.NewWad(big.NewInt(1)),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ownerTopic(owner common.Address) common.Hash {
	return common.BytesToHash(owner.Bytes())
}

var callerTopic = ownerTopic(common.Address{19: 0xCC})

// noteData builds the payload the ledger's note modifier emits: an
// ABI-encoded bytes blob holding the padded original calldata.
func noteData(sig common.Hash, args ...common.Hash) []byte {
	calldata := make([]byte, 0, 4+32*len(args))
	calldata = append(calldata, sig[:4]...)
	for _, arg := range args {
		calldata = append(calldata, arg[:]...)
	}
	padded := make([]byte, 224)
	copy(padded, calldata)

	data := make([]byte, 64, 64+len(padded))
	data[31] = 0x20 // bytes offset
	data[63] = 224  // bytes length
	return append(data, padded...)
}

func frobLog(block uint64, ilk string, owner common.Address) gethtypes.Log {
	ilkTopic := common.Hash(dss.IlkBytes(ilk))
	return gethtypes.Log{
		BlockNumber: block,
		Topics: []common.Hash{
			frobTopic,
			callerTopic,
			ilkTopic,
			ownerTopic(owner),
		},
		Data: noteData(frobTopic, ilkTopic, ownerTopic(owner)),
	}
}

func forkLog(block uint64, ilk string, src, dst common.Address) gethtypes.Log {
	ilkTopic := common.Hash(dss.IlkBytes(ilk))
	return gethtypes.Log{
		BlockNumber: block,
		Topics: []common.Hash{
			forkTopic,
			callerTopic,
			ilkTopic,
			ownerTopic(src),
		},
		Data: noteData(forkTopic, ilkTopic, ownerTopic(src), ownerTopic(dst)),
	}
}

func TestChainProviderDiscoversOwners(t *testing.T) {
	a := common.Address{19: 1}
	b := common.Address{19: 2}
	c := common.Address{19: 3}

	filterer := &fakeFilterer{
		head: 100,
		logs: []gethtypes.Log{
			frobLog(10, "ETH-A", a),
			frobLog(20, "ETH-A", a), // repeat touch, must not duplicate
			forkLog(30, "ETH-A", b, c),
		},
	}
	reader := &fakeUrnReader{}
	provider := NewChainProvider(filterer, reader, common.Address{}, 0, discardLogger())

	urns, err := provider.Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 3)
	require.Contains(t, urns, a)
	require.Contains(t, urns, b)
	require.Contains(t, urns, c)
	require.Equal(t, 3, reader.reads)
	require.Equal(t, "ETH-A", urns[a].Ilk)
}

// The fork destination is not indexed; a urn that only ever received debt
// must still be discovered, from the log payload.
func TestChainProviderDiscoversForkDestination(t *testing.T) {
	src := common.Address{19: 1}
	dst := common.Address{19: 2}

	filterer := &fakeFilterer{
		head: 100,
		logs: []gethtypes.Log{forkLog(30, "ETH-A", src, dst)},
	}
	provider := NewChainProvider(filterer, &fakeUrnReader{}, common.Address{}, 0, discardLogger())

	urns, err := provider.Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 2)
	require.Contains(t, urns, src)
	require.Contains(t, urns, dst)
}

// The ilk filter sits at topic position two, after the caller topic; notes
// for other ilks must not survive the node-side filter.
func TestChainProviderFiltersByIlkTopic(t *testing.T) {
	a := common.Address{19: 1}
	b := common.Address{19: 2}

	filterer := &fakeFilterer{
		head: 100,
		logs: []gethtypes.Log{
			frobLog(10, "ETH-A", a),
			frobLog(20, "BAT-A", b),
		},
	}
	provider := NewChainProvider(filterer, &fakeUrnReader{}, common.Address{}, 0, discardLogger())

	urns, err := provider.Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 1)
	require.Contains(t, urns, a)
}

func TestChainProviderChunksRequests(t *testing.T) {
	filterer := &fakeFilterer{head: 25}
	provider := NewChainProvider(filterer, &fakeUrnReader{}, common.Address{}, 0,
		discardLogger(), WithChunkSize(10))

	_, err := provider.Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Equal(t, []blockRange{
		{from: 0, to: 9},
		{from: 10, to: 19},
		{from: 20, to: 25},
	}, filterer.queries)
}

func TestChainProviderResumesFromWatermark(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "urns.db"))
	require.NoError(t, err)
	defer cache.Close()

	a := common.Address{19: 1}
	b := common.Address{19: 2}

	filterer := &fakeFilterer{
		head: 100,
		logs: []gethtypes.Log{
			frobLog(10, "ETH-A", a),
			frobLog(90, "ETH-A", b),
		},
	}
	reader := &fakeUrnReader{}
	build := func() *ChainProvider {
		return NewChainProvider(filterer, reader, common.Address{}, 0,
			discardLogger(), WithCache(cache), WithChunkSize(1000))
	}

	urns, err := build().Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 2)

	// Second run must resume past the recorded watermark and still surface
	// the cached owner discovered in the first pass.
	filterer.head = 150
	filterer.queries = nil
	urns, err = build().Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 2)
	require.Contains(t, urns, a)
	require.Equal(t, []blockRange{{from: 101, to: 150}}, filterer.queries)
}

func TestChainProviderStaleHeadSkipsReplay(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "urns.db"))
	require.NoError(t, err)
	defer cache.Close()

	a := common.Address{19: 1}
	require.NoError(t, cache.AddOwners(context.Background(), "ETH-A", []common.Address{a}, 200))

	filterer := &fakeFilterer{head: 200}
	provider := NewChainProvider(filterer, &fakeUrnReader{}, common.Address{}, 0,
		discardLogger(), WithCache(cache))

	urns, err := provider.Urns(context.Background(), "ETH-A")
	require.NoError(t, err)
	require.Len(t, urns, 1)
	require.Empty(t, filterer.queries)
}

func TestOwnersFromNoteIgnoresForeignTopics(t *testing.T) {
	entry := gethtypes.Log{
		Topics: []common.Hash{
			common.HexToHash("0xdeadbeef"),
			callerTopic,
			common.Hash(dss.IlkBytes("ETH-A")),
			ownerTopic(common.Address{19: 1}),
		},
	}
	require.Empty(t, ownersFromNote(entry))

	require.Empty(t, ownersFromNote(gethtypes.Log{Topics: []common.Hash{frobTopic}}))
}

func TestOwnersFromNoteTruncatedForkPayload(t *testing.T) {
	src := common.Address{19: 1}
	entry := forkLog(10, "ETH-A", src, common.Address{19: 2})
	entry.Data = entry.Data[:100]

	owners := ownersFromNote(entry)
	require.Equal(t, []common.Address{src}, owners)
}
