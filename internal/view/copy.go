package view

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
)

var ErrNothingToCopy = errors.New("nothing to copy")

const (
	MessageNothingToCopy = "Nothing to copy!"
	MessageCopyFailed    = "Failed to copy text. Check browser permissions or console."
	MessageCopied        = "Copied!"
)

type Clipboard interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// SystemClipboard writes to the OS clipboard (xclip/xsel/wl-copy, pbcopy, or
// the Windows API).
func SystemClipboard() Clipboard {
	return systemClipboard{}
}

// Copier copies rendered text and reports the outcome through Notify.
type Copier struct {
	Clipboard Clipboard
	Notify    func(message string)
}

// Copy refuses empty or placeholder text without touching the clipboard.
func (c Copier) Copy(text string) error {
	if text == "" || text == Placeholder {
		c.notify(MessageNothingToCopy)
		return ErrNothingToCopy
	}
	if err := c.Clipboard.WriteAll(text); err != nil {
		c.notify(MessageCopyFailed)
		return fmt.Errorf("write clipboard: %w", err)
	}
	c.notify(MessageCopied)
	return nil
}

func (c Copier) notify(message string) {
	if c.Notify != nil {
		c.Notify(message)
	}
}
