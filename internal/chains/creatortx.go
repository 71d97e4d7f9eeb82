package chains

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoCreationEndpoint is returned when the chain has no contract-creation
// endpoint configured.
var ErrNoCreationEndpoint = errors.New("no contract creation endpoint configured")

var txHashPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

// CreatorTxFinder discovers the transaction that deployed a contract by
// querying the chain's configured contract-creation endpoint.
type CreatorTxFinder struct {
	registry *Registry
	client   *http.Client
}

// NewCreatorTxFinder creates a finder backed by the given registry.
func NewCreatorTxFinder(registry *Registry) *CreatorTxFinder {
	return &CreatorTxFinder{
		registry: registry,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// FindCreatorTx returns the hash of the transaction that created address on
// the given chain, or an error when discovery is not possible. Callers treat
// failures as "creator transaction unknown", not as verification failures.
func (f *CreatorTxFinder) FindCreatorTx(ctx context.Context, chainID string, address common.Address) (string, error) {
	chain, ok := f.registry.Get(chainID)
	if !ok {
		return "", fmt.Errorf("unknown chain %s", chainID)
	}
	if chain.ContractCreationURL == "" {
		return "", ErrNoCreationEndpoint
	}

	url := strings.ReplaceAll(chain.ContractCreationURL, "${ADDRESS}", strings.ToLower(address.Hex()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching creation tx: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("creation endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	switch chain.CreationFormat {
	case "etherscan":
		return parseEtherscanCreation(body)
	default:
		return scrapeTxHash(body)
	}
}

// parseEtherscanCreation handles the etherscan-style
// getcontractcreation JSON response.
func parseEtherscanCreation(body []byte) (string, error) {
	var payload struct {
		Status string `json:"status"`
		Result []struct {
			TxHash string `json:"txHash"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parsing creation response: %w", err)
	}
	if len(payload.Result) == 0 || payload.Result[0].TxHash == "" {
		return "", errors.New("creation response contained no transaction")
	}
	return payload.Result[0].TxHash, nil
}

// scrapeTxHash returns the first transaction hash found in the body.
func scrapeTxHash(body []byte) (string, error) {
	hash := txHashPattern.Find(body)
	if hash == nil {
		return "", errors.New("no transaction hash in creation response")
	}
	return string(hash), nil
}
