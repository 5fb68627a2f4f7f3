package receipt

import "bytes"

const (
	esc = 0x1B
	gs  = 0x1D
	lf  = 0x0A
)

// escpos encodes the layout for thermal printers: initialize, one command
// group per row, feed and partial cut.
func (l *layout) escpos() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{esc, '@'})

	current := line{align: alignLeft}
	buf.Write([]byte{esc, 'a', 0})
	for _, ln := range l.lines {
		if ln.align != current.align {
			buf.Write([]byte{esc, 'a', byte(ln.align)})
		}
		if ln.bold != current.bold {
			buf.Write([]byte{esc, 'E', flag(ln.bold)})
		}
		if ln.tall != current.tall {
			size := byte(0x00)
			if ln.tall {
				size = 0x01
			}
			buf.Write([]byte{gs, '!', size})
		}
		current = ln
		buf.WriteString(ln.text)
		buf.WriteByte(lf)
	}

	buf.Write([]byte{esc, 'E', 0, gs, '!', 0x00, esc, 'a', 0})
	buf.Write([]byte{lf, lf, lf})
	buf.Write([]byte{gs, 'V', 0x01})
	return buf.Bytes()
}

func flag(on bool) byte {
	if on {
		return 1
	}
	return 0
}
