package browser

import (
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	playwright.Page
	timeout float64
	closed  bool
}

func (p *fakePage) SetDefaultTimeout(timeout float64) { p.timeout = timeout }
func (p *fakePage) Close(...playwright.PageCloseOptions) error {
	p.closed = true
	return nil
}

type fakeContext struct {
	playwright.BrowserContext
	pages  []*fakePage
	closed bool
}

func (c *fakeContext) NewPage() (playwright.Page, error) {
	p := &fakePage{}
	c.pages = append(c.pages, p)
	return p, nil
}
func (c *fakeContext) Close(...playwright.BrowserContextCloseOptions) error {
	c.closed = true
	return nil
}

type fakeBrowser struct {
	playwright.Browser
	defaultCtx *fakeContext
	created    []*fakeContext
	contextErr error
	closed     bool
}

func (b *fakeBrowser) Contexts() []playwright.BrowserContext {
	return []playwright.BrowserContext{b.defaultCtx}
}
func (b *fakeBrowser) NewContext(...playwright.BrowserNewContextOptions) (playwright.BrowserContext, error) {
	if b.contextErr != nil {
		return nil, b.contextErr
	}
	c := &fakeContext{}
	b.created = append(b.created, c)
	return c, nil
}
func (b *fakeBrowser) Close(...playwright.BrowserCloseOptions) error {
	b.closed = true
	return nil
}

func TestIsolatedSessionsDoNotShareContext(t *testing.T) {
	b := &fakeBrowser{defaultCtx: &fakeContext{}}

	first, err := newIsolatedSession(b, nil)
	require.NoError(t, err)
	second, err := newIsolatedSession(b, nil)
	require.NoError(t, err)

	require.Len(t, b.created, 2)
	assert.NotSame(t, b.created[0], b.created[1])
	assert.Empty(t, b.defaultCtx.pages)
	assert.Equal(t, DefaultTimeout, b.created[0].pages[0].timeout)

	var hooked bool
	third, err := newIsolatedSession(b, func() error { hooked = true; return nil })
	require.NoError(t, err)

	require.NoError(t, first.Close())
	assert.True(t, b.created[0].closed)
	assert.True(t, b.created[0].pages[0].closed)
	assert.False(t, b.created[1].closed)
	assert.False(t, b.defaultCtx.closed)

	require.NoError(t, second.Close())
	require.NoError(t, third.Close())
	assert.True(t, hooked)
}

func TestIsolatedSessionContextFailure(t *testing.T) {
	b := &fakeBrowser{defaultCtx: &fakeContext{}, contextErr: errors.New("target closed")}

	_, err := newIsolatedSession(b, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create context")
	assert.True(t, b.closed)
}
