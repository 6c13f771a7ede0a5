package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"subfee/internal/models"
)

// contractAddressZeroBytes is the length of the zero prefix every contract
// address carries; accounts never start with it.
const contractAddressZeroBytes = 8

// ComputeContractAddress derives the deterministic address of a contract
// deployed by deployer with the given salt.
//
// address = 0x00 * 8 ++ keccak256(deployer ++ salt)[8:]
func ComputeContractAddress(deployer models.Address, salt string) (models.Address, error) {
	if salt == "" {
		return models.Address{}, fmt.Errorf("salt cannot be empty")
	}

	hash := crypto.Keccak256(deployer[:], []byte(salt))

	var addr models.Address
	copy(addr[contractAddressZeroBytes:], hash[contractAddressZeroBytes:])
	return addr, nil
}

// IsSmartContract reports whether addr has the contract address form
func IsSmartContract(addr models.Address) bool {
	if addr.IsZero() {
		return false
	}
	for _, b := range addr[:contractAddressZeroBytes] {
		if b != 0 {
			return false
		}
	}
	return true
}

// AccountAddress derives a deterministic account address from a seed. It is
// used for devnet genesis accounts.
func AccountAddress(seed string) models.Address {
	hash := crypto.Keccak256([]byte("account:" + seed))
	addr := models.BytesToAddress(hash)
	if addr[0] == 0 {
		addr[0] = 0x01
	}
	return addr
}

func txHash(caller, to models.Address, nonce uint64) string {
	hash := crypto.Keccak256Hash(caller[:], to[:], encodeNonce(nonce))
	return hash.Hex()
}
