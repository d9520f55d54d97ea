package authorize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner = "owner-1"
	testPIN   = "1234"
	testToken = "challenge-ok"
)

func staticPIN(want string) PINVerifier {
	return PINVerifierFunc(func(_ context.Context, _, pin string) (bool, error) {
		return pin == want, nil
	})
}

func staticChallenge(want string) ChallengeVerifier {
	return ChallengeVerifierFunc(func(_ context.Context, _, token string) (bool, error) {
		return token == want, nil
	})
}

func TestChallengeRequiredOnlyOnFirstPrivilegedAction(t *testing.T) {
	a := New(staticPIN(testPIN), staticChallenge(testToken), DefaultConfig())
	ctx := context.Background()

	_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	var invalid *InvalidSecretError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "challenge")

	ticket, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN, Challenge: testToken})
	require.NoError(t, err)
	assert.Equal(t, testOwner, ticket.OwnerID)

	// Subsequent commands in the same session need only the PIN.
	_, err = a.Verify(ctx, testOwner, "lock", Secret{PIN: testPIN})
	assert.NoError(t, err)
}

func TestPINRequiredEveryCall(t *testing.T) {
	a := New(staticPIN(testPIN), nil, DefaultConfig())
	ctx := context.Background()

	_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	require.NoError(t, err)

	_, err = a.Verify(ctx, testOwner, "unlock", Secret{})
	var invalid *InvalidSecretError
	require.ErrorAs(t, err, &invalid)

	_, err = a.Verify(ctx, testOwner, "unlock", Secret{PIN: "0000"})
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "S-PIN")
}

func TestTicketConsumedExactlyOnce(t *testing.T) {
	a := New(staticPIN(testPIN), nil, DefaultConfig())

	ticket, err := a.Verify(context.Background(), testOwner, "climate_start", Secret{PIN: testPIN})
	require.NoError(t, err)

	require.NoError(t, ticket.Consume())
	assert.Error(t, ticket.Consume())
}

func TestLockoutAfterConsecutiveFailures(t *testing.T) {
	a := New(staticPIN(testPIN), nil, Config{MaxFailures: 3, Lockout: 5 * time.Minute})
	current := time.Now()
	a.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: "0000"})
		var invalid *InvalidSecretError
		require.ErrorAs(t, err, &invalid)
	}

	// Even the correct PIN is refused during the lockout.
	_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	var locked *LockoutError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 5*time.Minute, locked.RetryAfter)

	// A different command for the same owner is unaffected.
	_, err = a.Verify(ctx, testOwner, "lock", Secret{PIN: testPIN})
	assert.NoError(t, err)

	current = current.Add(5*time.Minute + time.Second)
	_, err = a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	assert.NoError(t, err)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	a := New(staticPIN(testPIN), nil, Config{MaxFailures: 3, Lockout: 5 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: "0000"})
		require.Error(t, err)
	}
	_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	require.NoError(t, err)

	// The streak restarted, so two more failures do not lock out.
	for i := 0; i < 2; i++ {
		_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: "0000"})
		var invalid *InvalidSecretError
		require.ErrorAs(t, err, &invalid)
	}
	_, err = a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	assert.NoError(t, err)
}

func TestResetChallengeDemandsNewToken(t *testing.T) {
	a := New(staticPIN(testPIN), staticChallenge(testToken), DefaultConfig())
	ctx := context.Background()

	_, err := a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN, Challenge: testToken})
	require.NoError(t, err)

	a.ResetChallenge(testOwner)

	_, err = a.Verify(ctx, testOwner, "unlock", Secret{PIN: testPIN})
	var invalid *InvalidSecretError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "challenge")
}

func TestVerifierErrorPropagates(t *testing.T) {
	boom := errors.New("verification service unreachable")
	failing := PINVerifierFunc(func(_ context.Context, _, _ string) (bool, error) {
		return false, boom
	})
	a := New(failing, nil, DefaultConfig())

	_, err := a.Verify(context.Background(), testOwner, "unlock", Secret{PIN: testPIN})
	assert.ErrorIs(t, err, boom)
}
