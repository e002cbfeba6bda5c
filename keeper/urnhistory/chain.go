package urnhistory

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"

	"cagekeeper/dss"
)

// Debt moves between urns through frob (adjustment) and fork (split/merge)
// calls, both of which surface as anonymous note logs on the ledger. The
// ledger's note modifier emits topics [selector, caller, arg1, arg2] with the
// call selector right-padded into topic zero, and copies the full calldata
// into the log payload. For both calls arg1 is the ilk; arg2 is the urn for
// frob and the source urn for fork. Fork's destination urn is not indexed and
// has to be decoded from the payload.
var (
	frobTopic = noteTopic("frob(bytes32,address,address,address,int256,int256)")
	forkTopic = noteTopic("fork(bytes32,address,address,int256,int256)")
)

func noteTopic(signature string) common.Hash {
	var topic common.Hash
	copy(topic[:], gethcrypto.Keccak256([]byte(signature))[:4])
	return topic
}

// LogFilterer is the subset of the Ethereum RPC used for history replay.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// UrnReader materializes the current state of one position.
type UrnReader interface {
	Urn(ctx context.Context, ilk string, owner common.Address) (dss.Urn, error)
}

// ChainProvider discovers positions by replaying ledger note logs from the
// deployment block forward. Scans are chunked, rate limited, and checkpointed
// through an optional cache so restarts only replay the tail.
type ChainProvider struct {
	filterer   LogFilterer
	reader     UrnReader
	vatAddress common.Address
	startBlock uint64
	chunkSize  uint64
	limiter    *rate.Limiter
	cache      *Cache
	log        *slog.Logger
}

// ChainProviderOption customises a ChainProvider.
type ChainProviderOption func(*ChainProvider)

// WithChunkSize overrides the block span fetched per getLogs request.
func WithChunkSize(blocks uint64) ChainProviderOption {
	return func(p *ChainProvider) { p.chunkSize = blocks }
}

// WithRateLimit bounds the getLogs request rate.
func WithRateLimit(limiter *rate.Limiter) ChainProviderOption {
	return func(p *ChainProvider) { p.limiter = limiter }
}

// WithCache persists discovered owners and scan progress between runs.
func WithCache(cache *Cache) ChainProviderOption {
	return func(p *ChainProvider) { p.cache = cache }
}

// NewChainProvider builds a provider replaying logs of the ledger at
// vatAddress from startBlock forward.
func NewChainProvider(filterer LogFilterer, reader UrnReader, vatAddress common.Address, startBlock uint64, logger *slog.Logger, opts ...ChainProviderOption) *ChainProvider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &ChainProvider{
		filterer:   filterer,
		reader:     reader,
		vatAddress: vatAddress,
		startBlock: startBlock,
		chunkSize:  20_000,
		limiter:    rate.NewLimiter(rate.Limit(4), 1),
		log:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Urns returns the current state of every position ever touched for the ilk.
func (p *ChainProvider) Urns(ctx context.Context, ilk string) (map[common.Address]dss.Urn, error) {
	owners := make(map[common.Address]struct{})

	from := p.startBlock
	if p.cache != nil {
		cached, err := p.cache.Owners(ctx, ilk)
		if err != nil {
			return nil, err
		}
		for _, owner := range cached {
			owners[owner] = struct{}{}
		}
		if watermark, ok, err := p.cache.Watermark(ctx, ilk); err != nil {
			return nil, err
		} else if ok && watermark >= from {
			from = watermark + 1
		}
	}

	head, err := p.filterer.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head block: %w", err)
	}

	var fresh []common.Address
	ilkTopic := common.Hash(dss.IlkBytes(ilk))
	for start := from; start <= head; start += p.chunkSize {
		end := start + p.chunkSize - 1
		if end > head {
			end = head
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		logs, err := p.filterer.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{p.vatAddress},
			Topics: [][]common.Hash{
				{frobTopic, forkTopic},
				nil, // caller
				{ilkTopic},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("filter ledger logs [%d, %d]: %w", start, end, err)
		}
		for _, entry := range logs {
			for _, owner := range ownersFromNote(entry) {
				if _, seen := owners[owner]; !seen {
					owners[owner] = struct{}{}
					fresh = append(fresh, owner)
				}
			}
		}
		p.log.Debug("replayed ledger chunk",
			"ilk", ilk, "from", start, "to", end, "owners", len(owners))
	}

	if p.cache != nil {
		if err := p.cache.AddOwners(ctx, ilk, fresh, head); err != nil {
			return nil, err
		}
	}

	urns := make(map[common.Address]dss.Urn, len(owners))
	for owner := range owners {
		urn, err := p.reader.Urn(ctx, ilk, owner)
		if err != nil {
			return nil, err
		}
		urns[owner] = urn
	}
	return urns, nil
}

// ownersFromNote extracts the urn owner addresses referenced by a frob or
// fork note log. A frob touches one urn, indexed as the second call argument;
// a fork touches two, with only the source indexed and the destination
// recovered from the calldata copied into the payload.
func ownersFromNote(entry gethtypes.Log) []common.Address {
	if len(entry.Topics) < 4 {
		return nil
	}
	switch entry.Topics[0] {
	case frobTopic:
		return []common.Address{common.BytesToAddress(entry.Topics[3].Bytes())}
	case forkTopic:
		owners := []common.Address{common.BytesToAddress(entry.Topics[3].Bytes())}
		if dst, ok := forkDestination(entry.Data); ok {
			owners = append(owners, dst)
		}
		return owners
	}
	return nil
}

// forkDestination decodes the fork call's dst argument from the note payload:
// an ABI-encoded bytes blob holding the original calldata, with dst as the
// third argument word after the 4-byte selector.
func forkDestination(data []byte) (common.Address, bool) {
	const dstOffset = 32 + 32 + 4 + 32 + 32 // bytes head, selector, ilk, src
	if len(data) < dstOffset+32 {
		return common.Address{}, false
	}
	return common.BytesToAddress(data[dstOffset : dstOffset+32]), true
}
