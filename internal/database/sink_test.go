package database

import (
	"encoding/json"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"subfee/internal/chain"
)

func TestToContractEvents(t *testing.T) {
	contract := chain.AccountAddress("contract")
	receipt := &chain.Receipt{
		TxHash: "0xabc",
		Epoch:  7,
		Events: []chain.Event{
			{TxHash: "0xabc", Contract: contract, Identifier: "deposit", Epoch: 7, Data: json.RawMessage(`{"user_id":1}`)},
			{TxHash: "0xabc", Contract: contract, Identifier: "subscribe", Epoch: 7, Data: json.RawMessage(`null`)},
		},
	}

	events := ToContractEvents(receipt)
	require.Len(t, events, 2)
	require.Equal(t, "deposit", events[0].Identifier)
	require.Equal(t, contract.String(), events[0].Contract)
	require.Equal(t, int64(7), events[0].Epoch)
	require.JSONEq(t, `{"user_id":1}`, string(events[0].Data))
	require.Equal(t, "subscribe", events[1].Identifier)

	require.Empty(t, ToContractEvents(&chain.Receipt{}))
}

func TestToNullString(t *testing.T) {
	require.False(t, ToNullString("").Valid)
	ns := ToNullString("0xabc")
	require.True(t, ns.Valid)
	require.Equal(t, "0xabc", ns.String)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	schema, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	require.Contains(t, string(schema), "operation_runs")
	require.Contains(t, string(schema), "contract_events")
}
