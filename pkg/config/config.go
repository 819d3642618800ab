package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for Vault Server configuration
const (
	EnvVaultAddress           = "VAULT_ADDRESS"
	EnvVaultAuthorityAddress  = "VAULT_AUTHORITY_ADDRESS"
	EnvVaultAuthorityKey      = "VAULT_AUTHORITY_PRIVATE_KEY"
	EnvVaultChainID           = "VAULT_CHAIN_ID"
	EnvVaultPort              = "VAULT_PORT"
	EnvVaultPersistenceType   = "VAULT_PERSISTENCE_TYPE"
	EnvVaultDataPath          = "VAULT_DATA_PATH"
	EnvVaultRedisAddress      = "VAULT_REDIS_ADDRESS"
	EnvVaultRedisPassword     = "VAULT_REDIS_PASSWORD"
	EnvVaultRedisDB           = "VAULT_REDIS_DB"
	EnvVaultRedisKeyPrefix    = "VAULT_REDIS_KEY_PREFIX"
	EnvVaultPayoutType        = "VAULT_PAYOUT_TYPE"
	EnvVaultRPCURL            = "VAULT_RPC_URL"
	EnvVaultPayoutPrivateKey  = "VAULT_PAYOUT_PRIVATE_KEY"
	EnvVaultWeb3SignerURL     = "VAULT_WEB3SIGNER_URL"
	EnvVaultPayoutFromAddress = "VAULT_PAYOUT_FROM_ADDRESS"
	EnvVaultWithdrawRateLimit = "VAULT_WITHDRAW_RATE_LIMIT"
	EnvVaultWithdrawBurst     = "VAULT_WITHDRAW_BURST"
	EnvVaultVerbose           = "VAULT_VERBOSE"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
	ChainId_BaseMainnet     ChainId = 8453
	ChainId_BaseSepolia     ChainId = 84532
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
	ChainName_BaseMainnet     ChainName = "base"
	ChainName_BaseSepolia     ChainName = "base-sepolia"
	ChainName_Unknown         ChainName = "unknown"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
	ChainId_BaseMainnet:     ChainName_BaseMainnet,
	ChainId_BaseSepolia:     ChainName_BaseSepolia,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
	ChainName_BaseMainnet:     ChainId_BaseMainnet,
	ChainName_BaseSepolia:     ChainId_BaseSepolia,
}

// GetChainName returns the well-known name for a chain id, or "unknown".
// Vaults may be bound to any chain; the name is informational only.
func GetChainName(chainId ChainId) ChainName {
	if name, ok := ChainIdToName[chainId]; ok {
		return name
	}
	return ChainName_Unknown
}

// IsEthereum reports whether the chain is an Ethereum L1 (or a local fork of one)
func IsEthereum(chainId ChainId) bool {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil:
		return true
	default:
		return false
	}
}

// GetSupportedChainIDsString returns well-known chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil), %d (base), %d (base-sepolia)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil, ChainId_BaseMainnet, ChainId_BaseSepolia)
}

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

type PayoutType string

const (
	PayoutType_Memory  PayoutType = "memory"
	PayoutType_Onchain PayoutType = "onchain"
)

type PersistenceConfig struct {
	Type     PersistenceType `json:"type" yaml:"type"`
	DataPath string          `json:"dataPath" yaml:"dataPath"`

	RedisAddress   string `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword  string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB        int    `json:"redisDb" yaml:"redisDb"`
	RedisKeyPrefix string `json:"redisKeyPrefix" yaml:"redisKeyPrefix"`
}

type PayoutConfig struct {
	Type PayoutType `json:"type" yaml:"type"`

	// RpcUrl is the Ethereum RPC endpoint used for onchain payouts
	RpcUrl string `json:"rpcUrl" yaml:"rpcUrl"`

	// Exactly one of PrivateKey or RemoteSigner must be set for onchain payouts
	PrivateKey   string              `json:"privateKey" yaml:"privateKey"`
	RemoteSigner *RemoteSignerConfig `json:"remoteSigner,omitempty" yaml:"remoteSigner,omitempty"`
}

// VaultServerConfig represents the complete configuration for a vault server
type VaultServerConfig struct {
	// Vault identity, bound into every authorization identifier
	VaultAddress string `json:"vault_address"`

	// Address of the single authority whose signatures release funds
	AuthorityAddress string `json:"authority_address"`

	ChainID   ChainId   `json:"chain_id"`
	ChainName ChainName `json:"chain_name"`

	Port int `json:"port"`

	Persistence PersistenceConfig `json:"persistence"`
	Payout      PayoutConfig      `json:"payout"`

	// Withdraw requests per second accepted by the HTTP server; 0 disables limiting
	WithdrawRateLimit float64 `json:"withdraw_rate_limit"`
	WithdrawBurst     int     `json:"withdraw_burst"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the vault server configuration and fills ChainName
func (c *VaultServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.VaultAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("vaultAddress"), "vault address cannot be empty"))
	} else if !isNonZeroHexAddress(c.VaultAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("vaultAddress"), c.VaultAddress, "must be a non-zero hex address"))
	}

	if c.AuthorityAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("authorityAddress"), "authority address cannot be empty"))
	} else if !isNonZeroHexAddress(c.AuthorityAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("authorityAddress"), c.AuthorityAddress, "must be a non-zero hex address"))
	}

	if c.ChainID == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("chainId"), "chain id cannot be zero"))
	}

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}

	if c.WithdrawRateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("withdrawRateLimit"), c.WithdrawRateLimit, "must not be negative"))
	}
	if c.WithdrawRateLimit > 0 && c.WithdrawBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("withdrawBurst"), c.WithdrawBurst, "must be at least 1 when rate limiting is enabled"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	allErrors = append(allErrors, c.Payout.validate(field.NewPath("payout"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}

	c.ChainName = GetChainName(c.ChainID)
	return nil
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if pc.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if pc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if pc.RedisDB < 0 || pc.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDb"), pc.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type,
			[]string{string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Redis)}))
	}
	return allErrors
}

func (pc *PayoutConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PayoutType_Memory:
	case PayoutType_Onchain:
		if pc.RpcUrl == "" {
			allErrors = append(allErrors, field.Required(path.Child("rpcUrl"), "rpcUrl is required for onchain payouts"))
		}
		hasKey := pc.PrivateKey != ""
		hasRemote := pc.RemoteSigner != nil && pc.RemoteSigner.Url != ""
		if hasKey == hasRemote {
			allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>", "exactly one of privateKey or remoteSigner must be set"))
		}
		if hasKey && !isValidPrivateKeyHex(pc.PrivateKey) {
			allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>", "private key must be 32 bytes (64 hex chars)"))
		}
		if hasRemote {
			if err := pc.RemoteSigner.Validate(); err != nil {
				allErrors = append(allErrors, field.Invalid(path.Child("remoteSigner"), pc.RemoteSigner.Url, err.Error()))
			}
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type,
			[]string{string(PayoutType_Memory), string(PayoutType_Onchain)}))
	}
	return allErrors
}

func isNonZeroHexAddress(addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	return common.HexToAddress(addr) != (common.Address{})
}

func isValidPrivateKeyHex(key string) bool {
	if !strings.HasPrefix(key, "0x") {
		key = "0x" + key
	}
	return len(key) == 66 // 0x + 64 hex chars
}

type RemoteSignerConfig struct {
	Url         string `json:"url" yaml:"url"`
	CACert      string `json:"caCert" yaml:"caCert"`
	Cert        string `json:"cert" yaml:"cert"`
	Key         string `json:"key" yaml:"key"`
	FromAddress string `json:"fromAddress" yaml:"fromAddress"`
	PublicKey   string `json:"publicKey" yaml:"publicKey"`
}

func (rsc *RemoteSignerConfig) Validate() error {
	var allErrors field.ErrorList
	if rsc.FromAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("fromAddress"), "fromAddress is required"))
	} else if !common.IsHexAddress(rsc.FromAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("fromAddress"), rsc.FromAddress, "must be a hex address"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
