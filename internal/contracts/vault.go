// Package contracts holds the BidVault ABI surface the service depends on.
package contracts

// BidVaultABI is the minimum contract surface: custodial deposits, per-bid
// fund locks, settlement/refund, and the proof-of-reserves check.
const BidVaultABI = `[
  {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lockedBalances","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lockForBid","stateMutability":"nonpayable","inputs":[{"name":"bidder","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"lockId","type":"uint256"}]},
  {"type":"function","name":"settleBid","stateMutability":"nonpayable","inputs":[{"name":"lockId","type":"uint256"},{"name":"seller","type":"address"}],"outputs":[]},
  {"type":"function","name":"refundBid","stateMutability":"nonpayable","inputs":[{"name":"lockId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"verifyReserves","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"lastPorSolvent","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"BidLocked","inputs":[{"name":"lockId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false}]},
  {"type":"event","name":"BidSettled","inputs":[{"name":"lockId","type":"uint256","indexed":true},{"name":"winner","type":"address","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"sellerAmount","type":"uint256","indexed":false},{"name":"platformCut","type":"uint256","indexed":false},{"name":"convenienceFee","type":"uint256","indexed":false}]},
  {"type":"event","name":"BidRefunded","inputs":[{"name":"lockId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"totalRefunded","type":"uint256","indexed":false}]},
  {"type":"event","name":"ReservesVerified","inputs":[{"name":"contractBalance","type":"uint256","indexed":false},{"name":"claimedTotal","type":"uint256","indexed":false},{"name":"solvent","type":"bool","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]}
]`
