package dss

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Collateral pairs an ilk with whichever auction house variant it trades
// through. At most one of Flipper/Clipper is set; both nil means the ilk has
// no collateral auctions.
type Collateral struct {
	Ilk     string
	Flipper *Flipper
	Clipper *Clipper
}

// Deployment is the address book of a single protocol deployment with typed
// wrappers for every contract the keeper touches.
type Deployment struct {
	Vat     *Vat
	End     *End
	Vow     *Vow
	ESM     *ESM
	Spotter *Spotter
	Flapper *Flapper
	Flopper *Flopper

	Collaterals []Collateral

	// DeploymentBlock is the block the Vat was deployed at, the lower bound
	// for ledger history replay.
	DeploymentBlock uint64
}

type deploymentFile struct {
	Vat             string           `json:"vat"`
	End             string           `json:"end"`
	Vow             string           `json:"vow"`
	ESM             string           `json:"esm"`
	Spotter         string           `json:"spotter"`
	Flapper         string           `json:"flapper"`
	Flopper         string           `json:"flopper"`
	DeploymentBlock uint64           `json:"deployment_block"`
	Collaterals     []collateralFile `json:"collaterals"`
}

type collateralFile struct {
	Name    string `json:"name"`
	Flipper string `json:"flipper,omitempty"`
	Clipper string `json:"clipper,omitempty"`
}

// LoadDeployment reads a deployment address book from a JSON file and binds
// every contract against the supplied backend.
func LoadDeployment(path string, backend bind.ContractBackend) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment file: %w", err)
	}
	var file deploymentFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode deployment file: %w", err)
	}
	return bindDeployment(file, backend)
}

func bindDeployment(file deploymentFile, backend bind.ContractBackend) (*Deployment, error) {
	required := map[string]string{
		"vat":     file.Vat,
		"end":     file.End,
		"vow":     file.Vow,
		"esm":     file.ESM,
		"spotter": file.Spotter,
		"flapper": file.Flapper,
		"flopper": file.Flopper,
	}
	addrs := make(map[string]common.Address, len(required))
	for name, raw := range required {
		addr, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", name, err)
		}
		addrs[name] = addr
	}

	dep := &Deployment{
		Vat:             NewVat(addrs["vat"], backend),
		End:             NewEnd(addrs["end"], backend),
		Vow:             NewVow(addrs["vow"], backend),
		ESM:             NewESM(addrs["esm"], backend),
		Spotter:         NewSpotter(addrs["spotter"], backend),
		Flapper:         NewFlapper(addrs["flapper"], backend),
		Flopper:         NewFlopper(addrs["flopper"], backend),
		DeploymentBlock: file.DeploymentBlock,
	}

	for _, c := range file.Collaterals {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("deployment collateral with empty name")
		}
		if c.Flipper != "" && c.Clipper != "" {
			return nil, fmt.Errorf("collateral %s declares both flipper and clipper", name)
		}
		col := Collateral{Ilk: name}
		if c.Flipper != "" {
			addr, err := ParseAddress(c.Flipper)
			if err != nil {
				return nil, fmt.Errorf("collateral %s flipper: %w", name, err)
			}
			col.Flipper = NewFlipper(addr, name, backend)
		}
		if c.Clipper != "" {
			addr, err := ParseAddress(c.Clipper)
			if err != nil {
				return nil, fmt.Errorf("collateral %s clipper: %w", name, err)
			}
			col.Clipper = NewClipper(addr, name, backend)
		}
		dep.Collaterals = append(dep.Collaterals, col)
	}
	return dep, nil
}

// ParseAddress validates and decodes a hex contract address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse contract abi: %v", err))
	}
	return parsed
}
