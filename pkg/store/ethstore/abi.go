package ethstore

// entryOutputs is the tuple returned by stat, lstat and fstat.
const entryOutputs = `[
	{"name":"fileType","type":"uint8"},
	{"name":"permissions","type":"uint16"},
	{"name":"links","type":"uint256"},
	{"name":"owner","type":"address"},
	{"name":"group","type":"address"},
	{"name":"entries","type":"uint256"},
	{"name":"lastModified","type":"uint256"}
]`

// kernelABI is the subset of the kernel contract interface the filesystem uses.
const kernelABI = `[
{"type":"function","name":"stat","stateMutability":"view","inputs":[{"name":"path","type":"bytes32[]"}],"outputs":` + entryOutputs + `},
{"type":"function","name":"lstat","stateMutability":"view","inputs":[{"name":"path","type":"bytes32[]"}],"outputs":` + entryOutputs + `},
{"type":"function","name":"fstat","stateMutability":"view","inputs":[{"name":"fd","type":"uint256"}],"outputs":` + entryOutputs + `},
{"type":"function","name":"readkeyPath","stateMutability":"view","inputs":[{"name":"path","type":"bytes32[]"},{"name":"index","type":"uint256"}],"outputs":[{"name":"key","type":"bytes32"}]},
{"type":"function","name":"read","stateMutability":"view","inputs":[{"name":"fd","type":"uint256"},{"name":"key","type":"bytes32"}],"outputs":[{"name":"value","type":"bytes"}]},
{"type":"function","name":"read2","stateMutability":"view","inputs":[{"name":"path","type":"bytes32[]"},{"name":"key","type":"bytes32"}],"outputs":[{"name":"value","type":"bytes"}]},
{"type":"function","name":"readlink","stateMutability":"view","inputs":[{"name":"path","type":"bytes32[]"}],"outputs":[{"name":"target","type":"bytes"}]},
{"type":"function","name":"open","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes32[]"},{"name":"flags","type":"uint256"}],"outputs":[]},
{"type":"function","name":"write","stateMutability":"nonpayable","inputs":[{"name":"fd","type":"uint256"},{"name":"key","type":"bytes32"},{"name":"value","type":"bytes"}],"outputs":[]},
{"type":"function","name":"truncate","stateMutability":"nonpayable","inputs":[{"name":"fd","type":"uint256"},{"name":"key","type":"bytes32"},{"name":"size","type":"uint256"}],"outputs":[]},
{"type":"function","name":"clear","stateMutability":"nonpayable","inputs":[{"name":"fd","type":"uint256"},{"name":"key","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"close","stateMutability":"nonpayable","inputs":[{"name":"fd","type":"uint256"}],"outputs":[]},
{"type":"function","name":"mkdir","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"rmdir","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"unlink","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"link","stateMutability":"nonpayable","inputs":[{"name":"source","type":"bytes32[]"},{"name":"target","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"symlink","stateMutability":"nonpayable","inputs":[{"name":"target","type":"bytes"},{"name":"link","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"rename","stateMutability":"nonpayable","inputs":[{"name":"source","type":"bytes32[]"},{"name":"target","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"chmod","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes32[]"},{"name":"mode","type":"uint16"}],"outputs":[]},
{"type":"function","name":"chown","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes32[]"},{"name":"owner","type":"address"},{"name":"group","type":"address"}],"outputs":[]},
{"type":"event","name":"Opened","anonymous":false,"inputs":[{"name":"caller","type":"address","indexed":true},{"name":"fd","type":"uint256","indexed":false}]}
]`
