package cookie

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: port}
}

func TestIssueThenVerifySucceeds(t *testing.T) {
	now := time.Unix(0, 0)
	j := NewJar(2*time.Minute, now)

	c := j.Issue(42, addr(5000))
	assert.True(t, j.Verify(c, 42, addr(5000)))
}

func TestVerifyRejectsWrongAttempt(t *testing.T) {
	now := time.Unix(0, 0)
	j := NewJar(2*time.Minute, now)

	c := j.Issue(42, addr(5000))
	assert.False(t, j.Verify(c, 42, addr(5001)), "cookie must be bound to the issuing endpoint")
	assert.False(t, j.Verify(c, 43, addr(5000)), "cookie must be bound to the connection id")
}

func TestCookieSurvivesRotationWithinGracePeriod(t *testing.T) {
	now := time.Unix(0, 0)
	j := NewJar(2*time.Minute, now)

	c := j.Issue(42, addr(5000))

	// Past the half-interval rotation point but before the prior slot ages
	// out entirely.
	j.Rotate(now.Add(90 * time.Second))
	require.True(t, j.Verify(c, 42, addr(5000)), "a cookie issued just before rotation must still verify")
}

func TestCookieLostAfterTwoRotations(t *testing.T) {
	now := time.Unix(0, 0)
	j := NewJar(2*time.Minute, now)

	c := j.Issue(42, addr(5000))

	j.Rotate(now.Add(90 * time.Second))  // original key -> prior slot
	j.Rotate(now.Add(200 * time.Second)) // prior slot overwritten by the next rotation

	assert.False(t, j.Verify(c, 42, addr(5000)), "a jar holds only two key slots; a cookie survives one rotation but not two")
}

func TestRotateIsIdempotentBeforeHalfInterval(t *testing.T) {
	now := time.Unix(0, 0)
	j := NewJar(2*time.Minute, now)
	c := j.Issue(42, addr(5000))

	j.Rotate(now.Add(10 * time.Second))
	assert.True(t, j.Verify(c, 42, addr(5000)))
}
