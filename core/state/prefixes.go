package state

var (
	accountPrefix      = []byte("account/")
	recordPrefix       = []byte("record/")
	mintPrefix         = []byte("token/mint/")
	tokenAccountPrefix = []byte("token/account/")
)
