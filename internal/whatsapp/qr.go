package whatsapp

import (
	"io"

	"github.com/mdp/qrterminal/v3"
)

// RenderQR returns a renderer printing each code as a half-block QR
// code to w.
func RenderQR(w io.Writer) func(code string) {
	return func(code string) {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
	}
}
