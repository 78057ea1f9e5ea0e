package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// signedOrderFields mirrors the CTF Exchange's on-chain Order struct; field
// order matters for the struct hash below.
type signedOrderFields struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType string `json:"signatureType"`
}

type orderSubmission struct {
	Order     signedOrderFields `json:"order"`
	Signature string            `json:"signature"`
	OrderType string            `json:"orderType"`
	ClientID  string            `json:"clientId"`
}

var (
	domainTypeHash = crypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	orderTypeHash = crypto.Keccak256([]byte(
		"Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))
)

func padUint256(s string) ([]byte, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid uint256 literal %q", s)
	}
	return common.LeftPadBytes(n.Bytes(), 32), nil
}

func padAddress(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

func buildDomainSeparator(verifyingContract string, chainID int64) []byte {
	nameHash := crypto.Keccak256([]byte("Polymarket CTF Exchange"))
	versionHash := crypto.Keccak256([]byte("1"))
	chainIDBytes := common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32)
	contractBytes := padAddress(verifyingContract)

	buf := make([]byte, 0, 32*5)
	buf = append(buf, domainTypeHash...)
	buf = append(buf, nameHash...)
	buf = append(buf, versionHash...)
	buf = append(buf, chainIDBytes...)
	buf = append(buf, contractBytes...)
	return crypto.Keccak256(buf)
}

func buildOrderStructHash(o signedOrderFields) ([]byte, error) {
	fields := [][2]string{
		{"salt", o.Salt}, {"makerAmount", o.MakerAmount}, {"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration}, {"nonce", o.Nonce}, {"feeRateBps", o.FeeRateBps},
	}

	buf := make([]byte, 0, 32*12)
	buf = append(buf, orderTypeHash...)

	salt, err := padUint256(o.Salt)
	if err != nil {
		return nil, fmt.Errorf("padding salt: %w", err)
	}
	buf = append(buf, salt...)
	buf = append(buf, padAddress(o.Maker)...)
	buf = append(buf, padAddress(o.Signer)...)
	buf = append(buf, padAddress(o.Taker)...)

	tokenID, ok := new(big.Int).SetString(o.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", o.TokenID)
	}
	buf = append(buf, common.LeftPadBytes(tokenID.Bytes(), 32)...)

	for _, f := range fields[1:] {
		padded, err := padUint256(f[1])
		if err != nil {
			return nil, fmt.Errorf("padding %s: %w", f[0], err)
		}
		buf = append(buf, padded...)
	}

	side, _ := new(big.Int).SetString(o.Side, 10)
	buf = append(buf, common.LeftPadBytes(side.Bytes(), 32)...)
	sigType, _ := new(big.Int).SetString(o.SignatureType, 10)
	buf = append(buf, common.LeftPadBytes(sigType.Bytes(), 32)...)

	return crypto.Keccak256(buf), nil
}

// signOrderEIP712 signs o per EIP-712 against the CTF exchange domain.
func (a *PolymarketAdapter) signOrderEIP712(o signedOrderFields) (string, error) {
	domainSeparator := buildDomainSeparator(ctfExchangeAddress, polymarketChainID)
	structHash, err := buildOrderStructHash(o)
	if err != nil {
		return "", fmt.Errorf("building order struct hash: %w", err)
	}

	prefix := []byte("\x19\x01")
	payload := append(append(append([]byte{}, prefix...), domainSeparator...), structHash...)
	finalHash := crypto.Keccak256(payload)

	sig, err := crypto.Sign(finalHash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing order hash: %w", err)
	}

	// crypto.Sign returns v in {0,1}; the exchange expects {27,28}.
	sig[64] += 27

	return hexutil.Encode(sig), nil
}
