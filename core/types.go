package core

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// FieldElement is a base-field scalar, stored big-endian.
type FieldElement [32]byte

func (f FieldElement) Big() *big.Int {
	return new(big.Int).SetBytes(f[:])
}

func FieldFromBig(v *big.Int) FieldElement {
	var f FieldElement
	b := v.Bytes()
	copy(f[32-len(b):], b)
	return f
}

func (f FieldElement) String() string {
	return hex.EncodeToString(f[:])
}

func (f FieldElement) IsZero() bool {
	return f == FieldElement{}
}

// StateHash identifies a protocol state.
type StateHash [32]byte

func (h StateHash) String() string { return hex.EncodeToString(h[:]) }
func (h StateHash) IsZero() bool   { return h == StateHash{} }

// LedgerHash identifies a Merkle ledger root.
type LedgerHash [32]byte

func (h LedgerHash) String() string { return hex.EncodeToString(h[:]) }
func (h LedgerHash) IsZero() bool   { return h == LedgerHash{} }

// PublicKey is a point on the base curve, represented affinely as (x, is_odd).
type PublicKey struct {
	X     FieldElement `json:"x"`
	IsOdd bool         `json:"is_odd"`
}

func (p PublicKey) IsEmpty() bool { return p.X.IsZero() && !p.IsOdd }

func (p PublicKey) String() string {
	parity := "even"
	if p.IsOdd {
		parity = "odd"
	}
	return fmt.Sprintf("%s:%s", p.X, parity)
}

// TokenId identifies a custody token. The zero value is invalid; DefaultTokenId
// is the native MINA token.
type TokenId FieldElement

var DefaultTokenId = TokenId(FieldFromBig(big.NewInt(1)))

// AccountId is the (public key, token id) pair that addresses an account.
type AccountId struct {
	PublicKey PublicKey `json:"public_key"`
	TokenId   TokenId   `json:"token_id"`
}

func (id AccountId) IsEmpty() bool { return id.PublicKey.IsEmpty() }

// AuthRequired is the permission level guarding one account capability.
type AuthRequired int

const (
	AuthNone AuthRequired = iota
	AuthEither
	AuthProof
	AuthSignature
	AuthImpossible
)

func (a AuthRequired) String() string {
	switch a {
	case AuthNone:
		return "None"
	case AuthEither:
		return "Either"
	case AuthProof:
		return "Proof"
	case AuthSignature:
		return "Signature"
	case AuthImpossible:
		return "Impossible"
	default:
		return "Unknown"
	}
}

// Permissions holds the eleven auth-required slots governing an account.
type Permissions struct {
	EditState       AuthRequired `json:"edit_state"`
	Send            AuthRequired `json:"send"`
	Receive         AuthRequired `json:"receive"`
	SetDelegate     AuthRequired `json:"set_delegate"`
	SetPermissions  AuthRequired `json:"set_permissions"`
	SetVerifKey     AuthRequired `json:"set_verification_key"`
	SetZkappUri     AuthRequired `json:"set_zkapp_uri"`
	EditSequenceSt  AuthRequired `json:"edit_sequence_state"`
	SetTokenSymbol  AuthRequired `json:"set_token_symbol"`
	IncrementNonce  AuthRequired `json:"increment_nonce"`
	SetVotingFor    AuthRequired `json:"set_voting_for"`
}

// Timing describes an account's vesting schedule.
type Timing struct {
	IsTimed         bool   `json:"is_timed"`
	InitialMinBal   uint64 `json:"initial_minimum_balance"`
	CliffTime       uint32 `json:"cliff_time"`
	CliffAmount     uint64 `json:"cliff_amount"`
	VestingPeriod   uint32 `json:"vesting_period"`
	VestingIncrement uint64 `json:"vesting_increment"`
}

// ZkappAccount is the optional zkApp extension of an account.
type ZkappAccount struct {
	AppState         [8]FieldElement `json:"app_state"`
	VerificationKey  []byte          `json:"verification_key,omitempty"`
	ZkappVersion     uint32          `json:"zkapp_version"`
	SequenceState    [5]FieldElement `json:"sequence_state"`
	LastSequenceSlot uint32          `json:"last_sequence_slot"`
	ProvedState      bool            `json:"proved_state"`
}

const (
	MaxZkappUriLen    = 255
	MaxTokenSymbolLen = 6
)

// Account is the ledger's unit of state. The empty account (zero public key)
// denotes an unoccupied slot.
type Account struct {
	PublicKey        PublicKey     `json:"public_key"`
	TokenId          TokenId       `json:"token_id"`
	Balance          uint64        `json:"balance"`
	Nonce            uint32        `json:"nonce"`
	Delegate         *PublicKey    `json:"delegate,omitempty"`
	ReceiptChainHash FieldElement  `json:"receipt_chain_hash"`
	VotingFor        StateHash     `json:"voting_for"`
	Timing           Timing        `json:"timing"`
	Permissions      Permissions   `json:"permissions"`
	Zkapp            *ZkappAccount `json:"zkapp,omitempty"`
	ZkappUri         string        `json:"zkapp_uri,omitempty"`
	TokenSymbol      string        `json:"token_symbol,omitempty"`
}

func (a Account) IsEmpty() bool { return a.PublicKey.IsEmpty() }

func (a Account) Id() AccountId {
	return AccountId{PublicKey: a.PublicKey, TokenId: a.TokenId}
}

// Hash computes the account's leaf hash for Merkle-tree purposes.
func (a Account) Hash() FieldElement {
	return accountHash(a)
}

// GlobalSlot pairs a slot number with the epoch length it is measured against.
type GlobalSlot struct {
	SlotNumber   uint32 `json:"slot_number"`
	SlotsPerEpoch uint32 `json:"slots_per_epoch"`
}

// EpochLedger captures the staking-ledger snapshot referenced by epoch data.
type EpochLedger struct {
	Hash         LedgerHash `json:"hash"`
	TotalCurrency uint64    `json:"total_currency"`
}

// EpochData is shared by staking_epoch_data and next_epoch_data.
type EpochData struct {
	Ledger          EpochLedger `json:"ledger"`
	Seed            FieldElement `json:"seed"`
	StartCheckpoint StateHash   `json:"start_checkpoint"`
	LockCheckpoint  StateHash   `json:"lock_checkpoint"`
	EpochLength     uint32      `json:"epoch_length"`
}

// SubWindowsPerWindow is the number of sub-windows composing one consensus window.
const SubWindowsPerWindow = 11

// ConsensusState is the consensus-relevant portion of a protocol state.
type ConsensusState struct {
	BlockchainLength             uint32                         `json:"blockchain_length"`
	EpochCount                   uint32                         `json:"epoch_count"`
	MinWindowDensity             uint32                         `json:"min_window_density"`
	SubWindowDensities           [SubWindowsPerWindow]uint32    `json:"sub_window_densities"`
	LastVrfOutput                [32]byte                       `json:"last_vrf_output"`
	TotalCurrency                uint64                         `json:"total_currency"`
	CurrGlobalSlotSinceHardFork  GlobalSlot                     `json:"curr_global_slot_since_hard_fork"`
	GlobalSlotSinceGenesis       uint32                         `json:"global_slot_since_genesis"`
	StakingEpochData             EpochData                      `json:"staking_epoch_data"`
	NextEpochData                EpochData                      `json:"next_epoch_data"`
	HasAncestorInSameCheckpointWindow bool                      `json:"has_ancestor_in_same_checkpoint_window"`
	BlockStakeWinner              PublicKey                     `json:"block_stake_winner"`
	BlockCreator                  PublicKey                     `json:"block_creator"`
	CoinbaseReceiver               PublicKey                     `json:"coinbase_receiver"`
	SuperchargeCoinbase            bool                          `json:"supercharge_coinbase"`
}

// EpochLocalSlot returns the state's slot offset within its epoch.
func (c ConsensusState) EpochLocalSlot(slotsPerEpoch uint32) uint32 {
	if slotsPerEpoch == 0 {
		return 0
	}
	return c.CurrGlobalSlotSinceHardFork.SlotNumber % slotsPerEpoch
}

// ProtocolConstants are the network-wide consensus constants.
type ProtocolConstants struct {
	K                    uint32 `json:"k"`
	SlotsPerEpoch        uint32 `json:"slots_per_epoch"`
	SlotsPerSubWindow    uint32 `json:"slots_per_sub_window"`
	Delta                uint32 `json:"delta"`
	GracePeriodSlots     uint32 `json:"grace_period_slots"`
	GenesisStateTimestamp int64 `json:"genesis_state_timestamp"`
}

// SlotsPerWindow returns the number of slots spanned by one consensus window.
func (p ProtocolConstants) SlotsPerWindow() uint32 {
	return SubWindowsPerWindow * p.SlotsPerSubWindow
}

// GracePeriodEnd returns the first global slot past the relaxed grace period;
// slots below it are inside the grace period.
func (p ProtocolConstants) GracePeriodEnd() uint32 {
	return p.GracePeriodSlots + p.SlotsPerWindow()
}

// BlockchainState carries the ledger-root pointers referenced by a block.
type BlockchainState struct {
	StagedLedgerHash  LedgerHash `json:"staged_ledger_hash"`
	SnarkedLedgerHash LedgerHash `json:"snarked_ledger_hash"`
	Timestamp         int64      `json:"timestamp"`
}

// Block is the header-only representation used for sync decisions.
type Block struct {
	Hash            StateHash       `json:"hash"`
	PredecessorHash StateHash       `json:"predecessor_hash"`
	Consensus       ConsensusState  `json:"consensus_state"`
	BlockchainState BlockchainState `json:"blockchain_state"`
	Proof           []byte          `json:"proof,omitempty"`
}

// SyncTarget is the frontier's current synchronization goal.
type SyncTarget struct {
	BestTip        StateHash   `json:"best_tip"`
	RootBlock      StateHash   `json:"root_block"`
	BlocksInbetween []StateHash `json:"blocks_inbetween"`
}
